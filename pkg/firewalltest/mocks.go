package firewalltest

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/gopacket/layers"
)

// ProcNetProvider serves in-memory connection tables and counts how often
// each one is opened.
type ProcNetProvider struct {
	mu     sync.Mutex
	tables map[layers.IPProtocol]string
	opens  map[layers.IPProtocol]int
	// Err, when set, is returned from every OpenConnTable call.
	Err error
}

func NewProcNetProvider() *ProcNetProvider {
	return &ProcNetProvider{
		tables: make(map[layers.IPProtocol]string),
		opens:  make(map[layers.IPProtocol]int),
	}
}

// SetTable installs the raw table text served for protocol.
func (m *ProcNetProvider) SetTable(protocol layers.IPProtocol, table string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[protocol] = table
}

func (m *ProcNetProvider) OpenConnTable(protocol layers.IPProtocol) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.opens[protocol]++
	if m.Err != nil {
		return nil, m.Err
	}
	table, ok := m.tables[protocol]
	if !ok {
		return nil, fmt.Errorf("no table for %s", protocol)
	}
	return io.NopCloser(strings.NewReader(table)), nil
}

// Opens returns how many times the table for protocol was opened.
func (m *ProcNetProvider) Opens(protocol layers.IPProtocol) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens[protocol]
}

// FileSystem records appended content per file instead of writing to disk.
type FileSystem struct {
	mu    sync.Mutex
	files map[string][]string
	// Err, when set, is returned from every Append call.
	Err error
}

func NewFileSystem() *FileSystem {
	return &FileSystem{files: make(map[string][]string)}
}

func (m *FileSystem) Append(filename string, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.files[filename] = append(m.files[filename], content)
	return nil
}

// Lines returns the content appended to filename, one entry per call.
func (m *FileSystem) Lines(filename string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.files[filename]...)
}

// ProcessNamer returns fixed process names per uid.
type ProcessNamer struct {
	Names map[int][]string
}

func (m *ProcessNamer) ProcessNames(uid int) []string {
	return m.Names[uid]
}
