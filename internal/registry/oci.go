/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package registry

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"

	"github.com/marcus-qen/agentengine/internal/engineerr"
)

// maxOCIPayloadBytes bounds the total bytes read out of a pulled OCI
// artifact, mirroring the corpus's in-memory extraction size cap.
const maxOCIPayloadBytes = 10 << 20 // 10 MiB

// LoadFromOCI pulls an agent-definition artifact identified by ref
// (host/repo:tag or host/repo@digest) and registers every .yaml/.yml
// entry found in it. ref may point directly at a plain YAML layer or at
// a gzipped tar bundle of several agent files.
func (r *Registry) LoadFromOCI(ctx context.Context, ref string) error {
	repo, err := remote.NewRepository(ref)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, fmt.Errorf("parse OCI ref %q: %w", ref, err))
	}
	if user := os.Getenv("AGENTENGINE_REGISTRY_USERNAME"); user != "" {
		repo.Client = &auth.Client{
			Credential: auth.StaticCredential(repo.Reference.Registry, auth.Credential{
				Username: user,
				Password: os.Getenv("AGENTENGINE_REGISTRY_PASSWORD"),
			}),
		}
	}

	dst := memory.New()
	desc, err := oras.Copy(ctx, repo, ref, dst, ref, oras.DefaultCopyOptions)
	if err != nil {
		return engineerr.Wrap(engineerr.ProviderError, fmt.Errorf("pull OCI artifact %q: %w", ref, err))
	}

	manifestRC, err := dst.Fetch(ctx, desc)
	if err != nil {
		return engineerr.Wrap(engineerr.Internal, err)
	}
	defer manifestRC.Close()

	var manifest ocispec.Manifest
	if err := readJSON(manifestRC, &manifest, maxOCIPayloadBytes); err != nil {
		return engineerr.Wrap(engineerr.Internal, fmt.Errorf("decode manifest: %w", err))
	}

	registered := 0
	for _, layer := range manifest.Layers {
		rc, err := dst.Fetch(ctx, layer)
		if err != nil {
			r.log.Error(err, "fetch OCI layer", "digest", layer.Digest.String())
			continue
		}
		payload, err := readAllCapped(rc, maxOCIPayloadBytes)
		rc.Close()
		if err != nil {
			r.log.Error(err, "read OCI layer", "digest", layer.Digest.String())
			continue
		}

		if strings.Contains(layer.MediaType, "gzip") || strings.Contains(layer.MediaType, "tar") {
			files, err := extractTarGzInMemory(payload, maxOCIPayloadBytes)
			if err != nil {
				r.log.Error(err, "extract OCI bundle layer")
				continue
			}
			for name, content := range files {
				if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
					continue
				}
				if _, err := r.parseAndRegister([]byte(content), false); err != nil {
					r.log.Error(err, "register agent from OCI bundle", "file", name)
					continue
				}
				registered++
			}
			continue
		}

		if _, err := r.parseAndRegister(payload, false); err != nil {
			r.log.Error(err, "register agent from OCI layer", "digest", layer.Digest.String())
			continue
		}
		registered++
	}

	if registered == 0 {
		return engineerr.Newf(engineerr.Internal, "no agent definitions found in OCI artifact %q", ref)
	}
	return nil
}

func readJSON(r io.Reader, v any, maxBytes int64) error {
	b, err := readAllCapped(r, maxBytes)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func readAllCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	b, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > maxBytes {
		return nil, fmt.Errorf("payload exceeds %d bytes", maxBytes)
	}
	return b, nil
}

// extractTarGzInMemory decompresses and untars payload, enforcing a total
// output-size cap across every entry combined.
func extractTarGzInMemory(payload []byte, maxTotalBytes int64) (map[string]string, error) {
	gz, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	files := make(map[string]string)
	var total int64
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		total += hdr.Size
		if total > maxTotalBytes {
			return nil, fmt.Errorf("bundle exceeds %d bytes total", maxTotalBytes)
		}
		b, err := readAllCapped(tr, maxTotalBytes)
		if err != nil {
			return nil, err
		}
		files[hdr.Name] = string(b)
	}
	return files, nil
}
