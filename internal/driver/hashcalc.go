package driver

import (
	"bytes"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"lowerc/internal/project"
	"lowerc/internal/target"
)

// targetDigest hashes every field of tgt, so two TOML targets sharing a
// name but differing in layout never share cache entries.
func targetDigest(tgt *target.Target) (project.Digest, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(tgt); err != nil {
		return project.Digest{}, err
	}
	return project.Sum(buf.Bytes()), nil
}

// moduleKey: H(ast || target || schema).
func moduleKey(raw []byte, tgt project.Digest) project.Digest {
	schema := project.Sum([]byte("lowerc-cache-v" + strconv.Itoa(int(diskCacheSchemaVersion))))
	return project.Combine(project.Sum(raw), tgt, schema)
}
