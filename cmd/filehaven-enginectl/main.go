// Package main is the filehaven engine's operator CLI: list registered
// storage types, run a scheduler tick, compute usage for a storage config,
// or serve files under a local root path through the range streaming service. It is a
// thin flag-based driver over the library packages, in the same
// os.Exit(run())-over-a-testable-function shape as the teacher's own
// cmd/aisnodeprofile/main.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/filehaven/engine/cmn/config"
	"github.com/filehaven/engine/cmn/secrets"
	"github.com/filehaven/engine/index"
	"github.com/filehaven/engine/metrics"
	"github.com/filehaven/engine/quota"
	"github.com/filehaven/engine/registry"
	"github.com/filehaven/engine/scheduler"
	"github.com/filehaven/engine/store"
	"github.com/filehaven/engine/stream"

	_ "github.com/filehaven/engine/drivers/discord"
	_ "github.com/filehaven/engine/drivers/githubapi"
	_ "github.com/filehaven/engine/drivers/githubreleases"
	_ "github.com/filehaven/engine/drivers/googledrive"
	_ "github.com/filehaven/engine/drivers/huggingface"
	_ "github.com/filehaven/engine/drivers/local"
	_ "github.com/filehaven/engine/drivers/mirror"
	_ "github.com/filehaven/engine/drivers/onedrive"
	_ "github.com/filehaven/engine/drivers/s3"
	_ "github.com/filehaven/engine/drivers/telegram"
	_ "github.com/filehaven/engine/drivers/webdav"
)

var configPath = flag.String("config", "filehaven.json", "path to the process config file")

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: filehaven-enginectl [-config path] <list-types|tick|usage|serve> ...")
		return 2
	}

	cfg, err := loadOrDefault(*configPath)
	if err != nil {
		glog.Errorf("enginectl: loading config: %v", err)
		return 1
	}

	switch args[0] {
	case "list-types":
		return cmdListTypes()
	case "tick":
		return cmdTick(cfg, args[1:])
	case "usage":
		return cmdUsage(cfg, args[1:])
	case "serve":
		return cmdServe(cfg, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		return 2
	}
}

func loadOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	return config.Load(path)
}

func cmdListTypes() int {
	for _, rec := range registry.ListTypes() {
		caps := ""
		for i, c := range rec.Capabilities {
			if i > 0 {
				caps += ","
			}
			caps += string(c)
		}
		fmt.Printf("%-22s %-28s [%s]\n", rec.StorageType, rec.DisplayName, caps)
	}
	return 0
}

func cmdTick(cfg *config.Config, args []string) int {
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		glog.Errorf("enginectl: opening store: %v", err)
		return 1
	}
	defer s.Close()

	secretKey, err := secrets.ParseKey(cfg.Secrets.MasterKeyHex)
	if err != nil {
		glog.Errorf("enginectl: parsing master key: %v", err)
		return 1
	}

	reg := metrics.NewRegistry(prometheus.NewRegistry())
	quotaEngine := quota.NewEngine(s, cfg.Quota).WithMetrics(reg)
	indexEngine := index.NewEngine(s)
	handlers := registerHandlers(s, secretKey, quotaEngine, indexEngine)

	sch := scheduler.New(s, handlers, cfg.Scheduler.Lease, cfg.Scheduler.TickInterval, cfg.Scheduler.RunHistoryCap).
		WithMetrics(reg)

	sch.Tick(context.Background(), time.Now())
	fmt.Println("tick complete")
	return 0
}

func cmdUsage(cfg *config.Config, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: filehaven-enginectl usage <storage-config-id>")
		return 2
	}
	s, err := store.Open(cfg.Store.Path)
	if err != nil {
		glog.Errorf("enginectl: opening store: %v", err)
		return 1
	}
	defer s.Close()

	sc, err := s.GetStorageConfig(args[0])
	if err != nil {
		glog.Errorf("enginectl: loading storage config %s: %v", args[0], err)
		return 1
	}

	secretKey, err := secrets.ParseKey(cfg.Secrets.MasterKeyHex)
	if err != nil {
		glog.Errorf("enginectl: parsing master key: %v", err)
		return 1
	}
	secret, err := secrets.Decrypt(secretKey, sc.EncryptedSecrets)
	if err != nil {
		glog.Errorf("enginectl: decrypting secrets for %s: %v", args[0], err)
		return 1
	}

	var enf *registry.Enforcer
	if e, err := registry.CreateDriver(context.Background(), sc.StorageType, sc.ConfigJSON, secret); err == nil {
		enf = e
	}

	eng := quota.NewEngine(s, cfg.Quota).WithMetrics(metrics.NewRegistry(prometheus.NewRegistry()))
	res, err := eng.ComputeUsage(context.Background(), sc, enf)
	if err != nil {
		glog.Errorf("enginectl: computing usage: %v", err)
		return 1
	}
	if res == nil {
		fmt.Println("no usage source available for this storage config")
		return 1
	}
	fmt.Printf("usedBytes=%d source=%s\n", res.UsedBytes, res.Source)
	return 0
}

func cmdServe(cfg *config.Config, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: filehaven-enginectl serve <root-path> <listen-addr>")
		return 2
	}
	rootPath, addr := args[0], args[1]

	rawConfig := fmt.Sprintf(`{"root_path":%q}`, rootPath)
	enf, err := registry.CreateDriver(context.Background(), store.TypeLocal, []byte(rawConfig), nil)
	if err != nil {
		glog.Errorf("enginectl: creating local driver: %v", err)
		return 1
	}

	streamCfg := stream.Config{
		SizeProbeTimeout:    cfg.Stream.SizeProbeTimeout,
		VideoThresholdBytes: cfg.Stream.VideoSeekGuardThresholdBytes,
		FallbackPolicy:      stream.RangeFallbackPolicy(cfg.Stream.RangeFallbackPolicy),
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		dr, err := enf.DownloadFile(r.Context(), path)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		req := &stream.Request{Method: r.Method, Header: r.Header, Path: path, Channel: stream.ChannelFSWeb}
		if err := stream.Serve(r.Context(), w, req, dr, streamCfg); err != nil {
			glog.Errorf("enginectl: serving %s: %v", path, err)
		}
	})

	glog.Infof("enginectl: serving %s on %s", rootPath, addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		glog.Errorf("enginectl: http server: %v", err)
		return 1
	}
	return 0
}
