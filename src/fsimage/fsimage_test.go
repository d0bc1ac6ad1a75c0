package fsimage

import (
	"path/filepath"
	"testing"

	"defs"
	"ustr"
)

const (
	testLogBlocks   = 32
	testInodeBlocks = 4
	testDataBlocks  = 256
)

func mkTestImage(t *testing.T) (*Image_t, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	img, err := Format(path, testLogBlocks, testInodeBlocks, testDataBlocks)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	return img, path
}

func TestFormatThenBootHasRoot(t *testing.T) {
	img, path := mkTestImage(t)
	if err := img.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	reboot, err := Boot(path)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	defer reboot.Shutdown()

	st, serr := reboot.Stat(ustr.MkUstrRoot())
	if serr != 0 {
		t.Fatalf("stat root: %d", serr)
	}
	if st.Mode() != defs.T_DIR {
		t.Fatalf("root mode = %d, want T_DIR", st.Mode())
	}
}

func TestMkFileWriteReadUnlink(t *testing.T) {
	img, _ := mkTestImage(t)
	defer img.Shutdown()

	payload := []byte("hello from the host harness")
	if err := img.MkFile(ustr.Ustr("greeting"), payload); err != 0 {
		t.Fatalf("mkfile: %d", err)
	}

	got, rerr := img.Read(ustr.Ustr("greeting"))
	if rerr != 0 {
		t.Fatalf("read: %d", rerr)
	}
	if string(got) != string(payload) {
		t.Fatalf("read content = %q, want %q", got, payload)
	}

	if err := img.MkFile(ustr.Ustr("greeting"), nil); err == 0 {
		t.Fatalf("expected EEXIST on duplicate mkfile")
	}

	if err := img.Unlink(ustr.Ustr("greeting")); err != 0 {
		t.Fatalf("unlink: %d", err)
	}
	if _, rerr := img.Read(ustr.Ustr("greeting")); rerr == 0 {
		t.Fatalf("expected ENOENT after unlink")
	}
}

func TestMkDirAndLs(t *testing.T) {
	img, _ := mkTestImage(t)
	defer img.Shutdown()

	if err := img.MkDir(ustr.Ustr("etc")); err != 0 {
		t.Fatalf("mkdir: %d", err)
	}
	if err := img.MkFile(ustr.Ustr("etc/motd"), []byte("welcome")); err != 0 {
		t.Fatalf("mkfile under dir: %d", err)
	}

	entries, lerr := img.Ls(ustr.Ustr("etc"))
	if lerr != 0 {
		t.Fatalf("ls: %d", lerr)
	}
	st, ok := entries["motd"]
	if !ok {
		t.Fatalf("ls missing motd, got %v", entries)
	}
	if st.Size() != uint64(len("welcome")) {
		t.Fatalf("motd size = %d, want %d", st.Size(), len("welcome"))
	}
}

func TestRenameWithinAndAcrossDirs(t *testing.T) {
	img, _ := mkTestImage(t)
	defer img.Shutdown()

	if err := img.MkFile(ustr.Ustr("a"), []byte("x")); err != 0 {
		t.Fatalf("mkfile a: %d", err)
	}
	if err := img.Rename(ustr.Ustr("a"), ustr.Ustr("b")); err != 0 {
		t.Fatalf("rename a->b: %d", err)
	}
	if _, rerr := img.Read(ustr.Ustr("b")); rerr != 0 {
		t.Fatalf("read b after rename: %d", rerr)
	}

	if err := img.MkDir(ustr.Ustr("sub")); err != 0 {
		t.Fatalf("mkdir sub: %d", err)
	}
	if err := img.Rename(ustr.Ustr("b"), ustr.Ustr("sub/b")); err != 0 {
		t.Fatalf("rename b->sub/b: %d", err)
	}
	if _, rerr := img.Read(ustr.Ustr("sub/b")); rerr != 0 {
		t.Fatalf("read sub/b after rename: %d", rerr)
	}
}
