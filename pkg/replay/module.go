package replay

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/Shopify/go-lua"
	"golang.org/x/crypto/blake2b"

	"github.com/dd0wney/cluso-subchain/pkg/logging"
)

// Digest is the content address of a module (blake2b-256 of its source)
type Digest [blake2b.Size256]byte

// ComputeDigest hashes module source
func ComputeDigest(src []byte) Digest {
	return blake2b.Sum256(src)
}

// ParseDigest decodes a hex digest
func ParseDigest(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("invalid digest: %w", err)
	}
	if len(b) != len(d) {
		return d, fmt.Errorf("invalid digest length %d, want %d", len(b), len(d))
	}
	copy(d[:], b)
	return d, nil
}

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is unset
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Module is a compiled transition function. It is immutable and may back any number of engines.
type Module struct {
	name       string
	source     []byte
	digest     Digest
	abiVersion int
}

// CompileModule checks that src is a loadable Lua chunk declaring an integer abi_version and
// an apply(position, block, timestamp) function.
func CompileModule(name string, src []byte) (*Module, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("module %q is empty", name)
	}

	source := make([]byte, len(src))
	copy(source, src)

	l := newSandbox(logging.NewNopLogger())
	installHostAPI(l, nil, nil)

	if err := loadChunk(l, name, source); err != nil {
		return nil, err
	}

	abi, err := readABIVersion(l)
	if err != nil {
		return nil, fmt.Errorf("module %q: %w", name, err)
	}

	l.Global("apply")
	isFn := l.IsFunction(-1)
	l.Pop(1)
	if !isFn {
		return nil, fmt.Errorf("module %q does not define function apply", name)
	}

	return &Module{
		name:       name,
		source:     source,
		digest:     ComputeDigest(source),
		abiVersion: abi,
	}, nil
}

// Name returns the chunk name used in error messages
func (m *Module) Name() string { return m.name }

// Digest returns the content address
func (m *Module) Digest() Digest { return m.digest }

// ABIVersion returns the module's declared abi_version
func (m *Module) ABIVersion() int { return m.abiVersion }

// Source returns a copy of the module source
func (m *Module) Source() []byte {
	out := make([]byte, len(m.source))
	copy(out, m.source)
	return out
}

func loadChunk(l *lua.State, name string, src []byte) error {
	if err := lua.LoadBuffer(l, string(src), "="+name, "t"); err != nil {
		return fmt.Errorf("load module %q: %w", name, luaError(l, err))
	}
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		return fmt.Errorf("run module %q: %w", name, luaError(l, err))
	}
	return nil
}

// luaError prefers the error object left on the stack, which carries the script's message
func luaError(l *lua.State, err error) error {
	defer l.Pop(1)
	if msg, ok := l.ToString(-1); ok && msg != "" {
		return errors.New(msg)
	}
	return err
}

func readABIVersion(l *lua.State) (int, error) {
	l.Global("abi_version")
	defer l.Pop(1)

	if l.TypeOf(-1) != lua.TypeNumber {
		return 0, fmt.Errorf("abi_version must be a number")
	}
	n, _ := l.ToNumber(-1)
	v, ok := l.ToInteger(-1)
	if !ok || float64(v) != n || v <= 0 {
		return 0, fmt.Errorf("abi_version must be a positive integer")
	}
	return v, nil
}
