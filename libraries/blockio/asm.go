package blockio

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/redocdc/core/libraries/redotypes"
)

// ASMBackend reads an archived log stored in Oracle ASM by shelling out to
// a container-side command that pipes the ASM file through a FIFO, per
// spec.md §4.1. It is append-closed: Open drains the pipe fully into
// memory, and subsequent ReadAt calls are served from that mirror — so it
// must never be handed an online log, only a closed archived one.
//
// The exact remote invocation is configuration-driven (spec §9's redesign
// note: "the source hard-codes credentials and a FIFO trick; in a rewrite
// this must be configuration-driven"): CommandTemplate receives the ASM
// path and returns argv for exec.Command.
type ASMBackend struct {
	CommandTemplate func(asmPath string) (name string, args []string)

	data []byte
	path string
}

func NewASMBackend(tmpl func(asmPath string) (string, []string)) *ASMBackend {
	return &ASMBackend{CommandTemplate: tmpl}
}

func (b *ASMBackend) Open(path string) error {
	if b.CommandTemplate == nil {
		return fmt.Errorf("asm backend: no command template configured")
	}
	name, args := b.CommandTemplate(path)

	cmd := exec.Command(name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("asm pipe for %s: %w", path, err)
	}

	b.data = out.Bytes()
	b.path = path
	return nil
}

func (b *ASMBackend) ReadAt(dst []byte, offset redotypes.FileOffset) (int, error) {
	if int64(offset) >= int64(len(b.data)) {
		return 0, nil
	}
	n := copy(dst, b.data[offset:])
	return n, nil
}

func (b *ASMBackend) Size() (int64, error) {
	return int64(len(b.data)), nil
}

func (b *ASMBackend) Close() error {
	b.data = nil
	return nil
}

func (b *ASMBackend) IsAppendClosed() bool { return true }

var (
	_ Backend      = (*ASMBackend)(nil)
	_ AppendClosed = (*ASMBackend)(nil)
)
