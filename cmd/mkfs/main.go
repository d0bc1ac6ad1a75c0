// Command mkfs builds a disk image for this kernel's filesystem from a
// host skeleton directory tree, the way the teacher's mkfs.go turns a
// build-time directory into the image the kernel boots from. Unlike
// the teacher's version this kernel loads directly without a separate
// bootloader/kernel-image splice, so mkfs only ever writes one region:
// the filesystem itself.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"fsimage"
	"ustr"
)

// Region sizes for a freshly formatted image; generous enough for a
// small skeleton tree without wasting an unreasonable amount of disk.
const (
	logBlocks   = 256
	inodeBlocks = 64
	dataBlocks  = 16384

	maxParallelCopies = 8
)

func copydata(src string, img *fsimage.Image_t, dst ustr.Ustr) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	if err := img.MkFile(dst, data); err != 0 {
		return fmt.Errorf("mkfile %s: %d", dst, err)
	}
	return nil
}

// addfiles walks skeldir on the host and replicates its structure into
// img. Directories are created serially, in walk order, since a file's
// parent must exist before MkFile can link into it; regular files are
// then copied concurrently, bounded by maxParallelCopies, through an
// errgroup the way a bulk population step earns its own worker pool.
func addfiles(img *fsimage.Image_t, skeldir string) error {
	var files []struct{ host string; rel string }

	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skeldir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if e := img.MkDir(ustr.Ustr(rel)); e != 0 {
				return fmt.Errorf("mkdir %s: %d", rel, e)
			}
			return nil
		}
		files = append(files, struct{ host, rel string }{path, rel})
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", skeldir, err)
	}

	g := new(errgroup.Group)
	g.SetLimit(maxParallelCopies)
	for _, f := range files {
		f := f
		g.Go(func() error {
			return copydata(f.host, img, ustr.Ustr(f.rel))
		})
	}
	return g.Wait()
}

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s <output image> <skel dir>\n", os.Args[0])
	}
	flag.Parse()
	if flag.NArg() != 2 {
		flag.Usage()
		os.Exit(1)
	}
	image, skeldir := flag.Arg(0), flag.Arg(1)

	img, err := fsimage.Format(image, logBlocks, inodeBlocks, dataBlocks)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: format %s: %v\n", image, err)
		os.Exit(1)
	}

	if err := addfiles(img, skeldir); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
		img.Shutdown()
		os.Exit(1)
	}

	fmt.Println(img.Statistics())
	if err := img.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "mkfs: shutdown: %v\n", err)
		os.Exit(1)
	}
}
