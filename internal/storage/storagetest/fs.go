// Package storagetest provides filesystem doubles for exercising storage failures in tests.
package storagetest

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/spf13/afero"
)

// ErrInjected is returned by operations that a FaultFs was told to fail.
var ErrInjected = errors.New("storagetest: injected failure")

// FaultFs wraps an afero.Fs, counts mutating calls and fails those matching a configured rule.
type FaultFs struct {
	afero.Fs

	mu        sync.Mutex
	calls     map[string]int
	failMkdir func(path string) bool
	failMove  func(oldname, newname string) bool
}

// NewFaultFs wraps base.
func NewFaultFs(base afero.Fs) *FaultFs {
	return &FaultFs{Fs: base, calls: make(map[string]int)}
}

// FailMkdirWhen makes MkdirAll and Mkdir fail for paths accepted by match.
func (f *FaultFs) FailMkdirWhen(match func(path string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMkdir = match
}

// FailRenameWhen makes Rename fail for moves accepted by match.
func (f *FaultFs) FailRenameWhen(match func(oldname, newname string) bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMove = match
}

// FailRenameFrom fails every rename whose source ends with suffix.
func (f *FaultFs) FailRenameFrom(suffix string) {
	f.FailRenameWhen(func(oldname, _ string) bool {
		return strings.HasSuffix(oldname, suffix)
	})
}

// Reset clears injected failures and call counts.
func (f *FaultFs) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = make(map[string]int)
	f.failMkdir = nil
	f.failMove = nil
}

// Calls returns how often op was invoked. Only Stat, Mkdir, MkdirAll and Rename are counted.
func (f *FaultFs) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// TotalCalls sums all counted operations.
func (f *FaultFs) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FaultFs) record(op string) {
	f.mu.Lock()
	f.calls[op]++
	f.mu.Unlock()
}

func (f *FaultFs) mkdirFails(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failMkdir != nil && f.failMkdir(path)
}

func (f *FaultFs) renameFails(oldname, newname string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failMove != nil && f.failMove(oldname, newname)
}

func (f *FaultFs) Stat(name string) (os.FileInfo, error) {
	f.record("stat")
	return f.Fs.Stat(name)
}

func (f *FaultFs) Mkdir(name string, perm os.FileMode) error {
	f.record("mkdir")
	if f.mkdirFails(name) {
		return &os.PathError{Op: "mkdir", Path: name, Err: ErrInjected}
	}
	return f.Fs.Mkdir(name, perm)
}

func (f *FaultFs) MkdirAll(path string, perm os.FileMode) error {
	f.record("mkdirall")
	if f.mkdirFails(path) {
		return &os.PathError{Op: "mkdir", Path: path, Err: ErrInjected}
	}
	return f.Fs.MkdirAll(path, perm)
}

func (f *FaultFs) Rename(oldname, newname string) error {
	f.record("rename")
	if f.renameFails(oldname, newname) {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: ErrInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

func (f *FaultFs) Name() string {
	return "FaultFs"
}
