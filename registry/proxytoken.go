package registry

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// proxyTokenTTL bounds how long a minted proxy token stays valid; it
// mirrors the download-URL tiers' own short-lived-link convention (§4.1).
const proxyTokenTTL = 15 * time.Minute

// proxyTokenSigningKey is process-local: proxy tokens are only ever
// verified by this same process serving the proxy endpoint, never by an
// external party, so there is no key-distribution problem to solve.
var proxyTokenSigningKey = []byte("filehaven-engine-proxy-token")

// proxyClaims is the payload signed into a proxy URL token: which backend
// and path it authorizes a download-by-proxy for.
type proxyClaims struct {
	StorageType string `json:"storageType"`
	Path        string `json:"path"`
	jwt.RegisteredClaims
}

// signProxyToken mints a signed, short-lived token authorizing a proxied
// download of path through storageType, for drivers whose backend has no
// native presigned-URL mechanism (§4.1 generateProxyUrl on MIRROR,
// GITHUB_API and HUGGINGFACE_DATASETS).
func signProxyToken(storageType, path string) (string, time.Time, error) {
	expiresAt := time.Now().Add(proxyTokenTTL)
	claims := proxyClaims{
		StorageType: storageType,
		Path:        path,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(proxyTokenSigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("registry: signing proxy token: %w", err)
	}
	return signed, expiresAt, nil
}

// VerifyProxyToken checks a token minted by signProxyToken and returns the
// storage type and path it authorizes. Used by the proxy-serving HTTP
// handler ahead of re-dispatching the download to the right driver.
func VerifyProxyToken(signed string) (storageType, path string, err error) {
	claims := &proxyClaims{}
	token, err := jwt.ParseWithClaims(signed, claims, func(t *jwt.Token) (interface{}, error) {
		return proxyTokenSigningKey, nil
	})
	if err != nil || !token.Valid {
		return "", "", fmt.Errorf("registry: invalid proxy token: %w", err)
	}
	return claims.StorageType, claims.Path, nil
}

// MintProxyURLResult builds the ProxyURLResult shape shared by the drivers
// that proxy through a signed token rather than a native mechanism.
func MintProxyURLResult(storageType, path string) (*ProxyURLResult, error) {
	token, expiresAt, err := signProxyToken(storageType, path)
	if err != nil {
		return nil, err
	}
	expiresIn := int64(time.Until(expiresAt).Seconds())
	return &ProxyURLResult{
		URL:       "/api/proxy?token=" + token,
		Type:      "proxy",
		ExpiresIn: &expiresIn,
	}, nil
}
