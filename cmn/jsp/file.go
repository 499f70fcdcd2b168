// Package jsp (JSON persistence) saves and loads arbitrary JSON-encoded
// structures to/from disk with an atomic temp-file-then-rename write and an
// optional xxhash content checksum, the same durability idiom the teacher
// uses for its own on-disk metadata.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package jsp

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/OneOfOne/xxhash"
	jsoniter "github.com/json-iterator/go"

	"github.com/filehaven/engine/cmn/debug"
	"github.com/golang/glog"
)

const (
	signature = "filehaven"
	// header: [ signature(9) | version(1) | checksum(8) ]
	headerLen = len(signature) + 1 + 8
	// Version is the current on-disk format version this package writes.
	Version = 1
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrBadChecksum is returned by Load when the stored checksum does not
// match the file's content.
var ErrBadChecksum = fmt.Errorf("jsp: checksum mismatch")

// Save atomically writes v as a checksummed JSON document at path: encode
// into a sibling temp file, fsync, then rename over path. A reader never
// observes a partially written file.
func Save(path string, v interface{}) (err error) {
	debug.Assert(v != nil)
	tmp := path + ".tmp." + strconv.FormatInt(time.Now().UnixNano(), 36)

	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := xxhash.Checksum64(body)

	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	var header [headerLen]byte
	copy(header[:], signature)
	header[len(signature)] = Version
	binary.BigEndian.PutUint64(header[len(signature)+1:], sum)

	if _, err = file.Write(header[:]); err != nil {
		glog.Errorf("jsp: failed to write header for %s: %v", path, err)
		_ = file.Close()
		return err
	}
	if _, err = file.Write(body); err != nil {
		glog.Errorf("jsp: failed to write body for %s: %v", path, err)
		_ = file.Close()
		return err
	}
	if err = file.Sync(); err != nil {
		_ = file.Close()
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads and validates a file written by Save into v.
func Load(path string, v interface{}) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var header [headerLen]byte
	if _, err = io.ReadFull(file, header[:]); err != nil {
		return fmt.Errorf("jsp: truncated header in %s: %w", path, err)
	}
	if string(header[:len(signature)]) != signature {
		return fmt.Errorf("jsp: %s is not a filehaven metadata file", path)
	}
	wantSum := binary.BigEndian.Uint64(header[len(signature)+1:])

	body, err := io.ReadAll(file)
	if err != nil {
		return err
	}
	if xxhash.Checksum64(body) != wantSum {
		glog.Errorf("jsp: bad checksum, removing %s", path)
		_ = os.Remove(path)
		return ErrBadChecksum
	}
	return json.Unmarshal(body, v)
}
