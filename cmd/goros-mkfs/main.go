// Command goros-mkfs builds a MINIX3 disk image from a host directory
// tree, for use as the kernel's root disk.
package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"goros/defs"
	"goros/mem"
	"goros/minix"
)

func hostmode(info fs.FileInfo) defs.Mode_t {
	mode := defs.Typemode(defs.T_REG)
	perm := info.Mode().Perm()
	if perm&0400 != 0 {
		mode |= defs.MODE_O_R
	}
	if perm&0200 != 0 {
		mode |= defs.MODE_O_W
	}
	if perm&0100 != 0 {
		mode |= defs.MODE_O_X
	}
	if perm&0040 != 0 {
		mode |= defs.MODE_G_R
	}
	if perm&0020 != 0 {
		mode |= defs.MODE_G_W
	}
	if perm&0010 != 0 {
		mode |= defs.MODE_G_X
	}
	if perm&0004 != 0 {
		mode |= defs.MODE_A_R
	}
	if perm&0002 != 0 {
		mode |= defs.MODE_A_W
	}
	if perm&0001 != 0 {
		mode |= defs.MODE_A_X
	}
	return mode
}

func collect(dir string) ([]minix.Fileent_t, error) {
	var files []minix.Fileent_t
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, minix.Fileent_t{
			Path: "/" + filepath.ToSlash(rel),
			Mode: hostmode(info),
			Data: data,
		})
		return nil
	})
	return files, err
}

func run(cmd *cobra.Command, args []string) error {
	out := args[0]
	sizeMiB, _ := cmd.Flags().GetInt("size-mib")
	ninodes, _ := cmd.Flags().GetInt("inodes")
	srcdir, _ := cmd.Flags().GetString("dir")

	var files []minix.Fileent_t
	if srcdir != "" {
		var err error
		files, err = collect(srcdir)
		if err != nil {
			return fmt.Errorf("collecting %s: %w", srcdir, err)
		}
	}
	// the builder runs the filesystem engine, which needs the kernel
	// allocators
	phys := mem.Phys_init(1 << 14)
	mem.Kheap_init(phys)
	mem.Pageref_init()
	img, kerr := minix.Buildimage(sizeMiB<<20, uint32(ninodes), files)
	if kerr != 0 {
		return fmt.Errorf("building image: %v", kerr)
	}
	if err := os.WriteFile(out, img, 0o644); err != nil {
		return err
	}
	fmt.Printf("wrote %s: %d MiB, %d files\n", out, sizeMiB, len(files))
	return nil
}

func main() {
	root := &cobra.Command{
		Use:          "goros-mkfs <image>",
		Short:        "build a MINIX3 disk image",
		Args:         cobra.ExactArgs(1),
		RunE:         run,
		SilenceUsage: true,
	}
	root.Flags().Int("size-mib", 16, "image size in MiB")
	root.Flags().Int("inodes", 1024, "number of inodes")
	root.Flags().String("dir", "", "directory tree to copy into the image")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
