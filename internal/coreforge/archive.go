package coreforge

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractTar unpacks archive into dest, stripping a single top-level
// directory when the archive has one (forge tarballs always do).
// System tar is preferred for speed; the native reader is the fallback
// for hosts without it.
func extractTar(archive, dest string) error {
	if _, err := exec.LookPath("tar"); err == nil {
		if strip, err := shouldStripTar(archive); err == nil {
			args := []string{"xf", archive, "-C", dest}
			if strip {
				args = append(args, "--strip-components=1")
			}
			if exec.Command("tar", args...).Run() == nil {
				return nil
			}
		}
		debugf("system tar failed for %s, extracting natively\n", archive)
	}
	return extractTarNative(archive, dest)
}

// shouldStripTar peeks at the member list to decide whether everything
// lives under one top-level directory. Only the first screenful is
// sampled; forge tarballs are uniform.
func shouldStripTar(archive string) (bool, error) {
	cmd := exec.Command("sh", "-c",
		fmt.Sprintf("tar tf %q | head -n 51", archive))
	out, err := cmd.Output()
	if err != nil {
		return false, err
	}

	top := ""
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		first := strings.SplitN(line, "/", 2)[0]
		if top == "" {
			top = first
			continue
		}
		if first != top {
			return false, nil
		}
	}
	return top != "", nil
}

func extractTarNative(archive, dest string) error {
	file, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer file.Close()

	var reader io.Reader
	switch {
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		gz, err := pgzip.NewReader(file)
		if err != nil {
			return err
		}
		defer gz.Close()
		reader = gz
	case strings.HasSuffix(archive, ".tar.bz2"):
		reader = bzip2.NewReader(file)
	case strings.HasSuffix(archive, ".tar.xz"):
		xzr, err := xz.NewReader(file)
		if err != nil {
			return err
		}
		reader = xzr
	case strings.HasSuffix(archive, ".tar.zst"):
		zr, err := zstd.NewReader(file)
		if err != nil {
			return err
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(archive, ".tar"):
		reader = file
	default:
		return fmt.Errorf("unsupported archive format: %s", archive)
	}

	tr := tar.NewReader(reader)
	prefix := ""
	first := true
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		// PAX metadata entries carry no file content.
		if header.Typeflag == tar.TypeXGlobalHeader || header.Typeflag == tar.TypeXHeader {
			continue
		}
		if first {
			first = false
			if i := strings.IndexByte(header.Name, '/'); i >= 0 {
				prefix = header.Name[:i+1]
			}
		}

		name := header.Name
		if prefix != "" && strings.HasPrefix(name, prefix) {
			name = strings.TrimPrefix(name, prefix)
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dest, name)
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
			debugf("skipping tar entry escaping destination: %s\n", header.Name)
			continue
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
			if err := os.Chtimes(target, header.ModTime, header.ModTime); err != nil {
				debugf("cannot set times on %s: %v\n", target, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return err
			}
		case tar.TypeLink:
			linkTarget := header.Linkname
			if prefix != "" && strings.HasPrefix(linkTarget, prefix) {
				linkTarget = strings.TrimPrefix(linkTarget, prefix)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			if err := os.Link(filepath.Join(dest, linkTarget), target); err != nil {
				return err
			}
		default:
			debugf("skipping tar entry %s with type %d\n", header.Name, header.Typeflag)
		}
	}
}

// compressXZ writes an xz-compressed copy of src to dst.
func compressXZ(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	xw, err := xz.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(xw, in); err != nil {
		xw.Close()
		out.Close()
		return err
	}
	if err := xw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
