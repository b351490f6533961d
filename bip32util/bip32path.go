package bip32util

import (
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/pkg/errors"
)

var (
	// ErrPathMissingSegment is returned when a path is
	// too short to carry the requested segment, eg, the
	// coin type of `m/84'`.
	ErrPathMissingSegment = errors.New("Path is missing the requested segment")

	// ErrPathAlreadyMaxDepth is returned when the
	// BIP32 key has reached it's theoretical maximum
	// depth of 255, since additional derivations cannot
	// safely be serialized in a uint8
	ErrPathAlreadyMaxDepth = errors.New("Cannot create child path, currently at max BIP32 depth")

	// ErrPathNotRelative is returned when an absolute path
	// is joined onto another path.
	ErrPathNotRelative = errors.New("Only a relative path can be appended")
)

const (
	privatePathPrefix = "m"
	publicPathPrefix  = "M"
	privatePathSymbol = "'"
	maxBip32Depth     = math.MaxUint8

	// purposeSegment and coinTypeSegment are the
	// BIP44 positions of the purpose and coin type.
	purposeSegment  = 0
	coinTypeSegment = 1
)

// Path defines a BIP32 derivation path. A path is
// either absolute (rooted at m or M) or relative,
// being the suffix appended to an account path.
type Path struct {
	fPriv    bool
	relative bool
	Path     []uint32
}

// NewPathFromString wraps a call to PathInfoFromString, and initializes
// a Path from the result.
func NewPathFromString(path string) (*Path, error) {
	var err error
	p := &Path{}
	p.fPriv, p.Path, err = PathInfoFromString(path)
	if err != nil {
		return nil, err
	}

	return p, nil
}

// NewRelativePath parses a relative path like `0/0` or `0'/1`.
// The empty string is the empty relative path.
func NewRelativePath(path string) (*Path, error) {
	indices, err := RelativeIndicesFromString(path)
	if err != nil {
		return nil, err
	}

	return &Path{
		fPriv:    true,
		relative: true,
		Path:     indices,
	}, nil
}

// NewPrivatePath initializes a path for `m`
func NewPrivatePath() *Path {
	return &Path{
		fPriv: true,
		Path:  make([]uint32, 0),
	}
}

// NewPublicPath initializes a path for `M`
func NewPublicPath() *Path {
	return &Path{
		fPriv: false,
		Path:  make([]uint32, 0),
	}
}

func (p *Path) with(indices []uint32) *Path {
	return &Path{
		fPriv:    p.fPriv,
		relative: p.relative,
		Path:     indices,
	}
}

// Child attempts to append another sequence
// number to the path array, returning a new
// structure
func (p *Path) Child(sequence uint32) (*Path, error) {
	if p.Depth()+1 > maxBip32Depth {
		return nil, ErrPathAlreadyMaxDepth
	}

	indices := make([]uint32, p.Depth(), p.Depth()+1)
	copy(indices, p.Path)
	indices = append(indices, sequence)

	return p.with(indices), nil
}

// Join appends a relative path, producing a path
// of the same kind as p.
func (p *Path) Join(rel *Path) (*Path, error) {
	if !rel.relative {
		return nil, ErrPathNotRelative
	}
	if p.Depth()+rel.Depth() > maxBip32Depth {
		return nil, ErrPathAlreadyMaxDepth
	}

	indices := make([]uint32, 0, p.Depth()+rel.Depth())
	indices = append(indices, p.Path...)
	indices = append(indices, rel.Path...)

	return p.with(indices), nil
}

// ToPublic returns a new struct with the same
// info, except fPriv is now false
func (p *Path) ToPublic() *Path {
	newPath := p.with(p.Path)
	newPath.fPriv = false
	return newPath
}

// ToPrivate returns a new struct with the same
// info, except fPriv is now true
func (p *Path) ToPrivate() *Path {
	newPath := p.with(p.Path)
	newPath.fPriv = true
	return newPath
}

// Depth returns the current depth of the path
func (p *Path) Depth() int {
	return len(p.Path)
}

// IsPrivate returns whether the path is for a
// public (false) or private (true) key.
func (p *Path) IsPrivate() bool {
	return p.fPriv
}

// IsRelative returns whether the path has no root.
func (p *Path) IsRelative() bool {
	return p.relative
}

// Purpose returns the unhardened BIP44 purpose field.
func (p *Path) Purpose() (uint32, error) {
	if p.relative || p.Depth() <= purposeSegment {
		return 0, ErrPathMissingSegment
	}

	return p.Path[purposeSegment] &^ hdkeychain.HardenedKeyStart, nil
}

// CoinType returns the unhardened BIP44 coin type field.
func (p *Path) CoinType() (uint32, error) {
	if p.relative || p.Depth() <= coinTypeSegment {
		return 0, ErrPathMissingSegment
	}

	return p.Path[coinTypeSegment] &^ hdkeychain.HardenedKeyStart, nil
}

// WithCoinType returns a copy of the path with the coin
// type segment replaced, keeping its hardened flag.
func (p *Path) WithCoinType(coinType uint32) (*Path, error) {
	if p.relative || p.Depth() <= coinTypeSegment {
		return nil, ErrPathMissingSegment
	}

	indices := make([]uint32, p.Depth())
	copy(indices, p.Path)
	hardened := indices[coinTypeSegment] & hdkeychain.HardenedKeyStart
	indices[coinTypeSegment] = coinType | hardened

	return p.with(indices), nil
}

// IsContainedIn checks that the current p is completely
// specified in the other Path.
func (p *Path) IsContainedIn(other *Path) bool {
	depth := p.Depth()
	// This p must be FULLY contained inside other.Path
	if depth > other.Depth() {
		return false
	}

	for i := 0; i < depth; i++ {
		if p.Path[i] != other.Path[i] {
			return false
		}
	}

	return true
}

// IsHardened returns whether the provided
// sequence has the leftmost bit set.
func IsHardened(sequence uint32) bool {
	return sequence&hdkeychain.HardenedKeyStart != 0
}

// PathSegmentFromSequence is used for serializing the
// sequence parameter from a Path into a string. The
// function returns the sequence number as a string, with
// the private path symbol if the sequence is hardened.
func PathSegmentFromSequence(sequence uint32) string {
	if IsHardened(sequence) {
		return strconv.FormatUint(uint64(sequence-hdkeychain.HardenedKeyStart), 10) + privatePathSymbol
	}
	return strconv.FormatUint(uint64(sequence), 10)
}

// SequenceFromSegment parses a single path component,
// eg, `0'` or `12`.
func SequenceFromSegment(segment string) (uint32, error) {
	numHardened := strings.Count(segment, privatePathSymbol)

	var hardened bool
	if numHardened > 1 {
		return 0, errors.Errorf("Improperly formatted BIP32 derivation (cannot contain multiple ' characters)")
	} else if numHardened > 0 {
		if !strings.HasSuffix(segment, privatePathSymbol) {
			return 0, errors.Errorf("Improperly formatted BIP32 derivation (' must terminate the segment)")
		}
		hardened = true
		segment = strings.TrimSuffix(segment, privatePathSymbol)
	}

	sequence, err := strconv.ParseUint(segment, 10, 31)
	if err != nil {
		return 0, err
	}

	if hardened {
		sequence = sequence + hdkeychain.HardenedKeyStart
	}

	return uint32(sequence), nil
}

func indicesFromSegments(pieces []string) ([]uint32, error) {
	depth := len(pieces)
	if depth > maxBip32Depth {
		return nil, errors.Errorf("The provided path exceeds the maximum number of allowed derivations: %d", math.MaxUint8)
	}

	indices := make([]uint32, depth)
	for i := 0; i < depth; i++ {
		sequence, err := SequenceFromSegment(pieces[i])
		if err != nil {
			return nil, err
		}
		indices[i] = sequence
	}

	return indices, nil
}

// PathInfoFromString is used by other code, it takes
// a path(string) and extracts fPriv, Path, or an error.
func PathInfoFromString(path string) (bool, []uint32, error) {
	if len(path) == 0 {
		return false, nil, errors.New("Path cannot be empty string")
	}

	var isPrivateKey bool
	if strings.HasPrefix(path, privatePathPrefix) {
		isPrivateKey = true
	} else if strings.HasPrefix(path, publicPathPrefix) {
		isPrivateKey = false
	} else {
		return false, nil, errors.New("Absolute BIP32 path is required")
	}

	pieces := strings.Split(path, "/")
	if pieces[0] != privatePathPrefix && pieces[0] != publicPathPrefix {
		return false, nil, errors.New("Absolute BIP32 path is required")
	}

	indices, err := indicesFromSegments(pieces[1:])
	if err != nil {
		return false, nil, err
	}

	return isPrivateKey, indices, nil
}

// RelativeIndicesFromString parses the components of a
// relative path. A leading root marker is rejected.
func RelativeIndicesFromString(path string) ([]uint32, error) {
	if path == "" {
		return []uint32{}, nil
	}
	if strings.HasPrefix(path, privatePathPrefix) || strings.HasPrefix(path, publicPathPrefix) {
		return nil, errors.Errorf("Relative BIP32 path is required, got %s", path)
	}

	return indicesFromSegments(strings.Split(path, "/"))
}

// String encodes the Path structure into a string that
// is human readable, eg, M/9999'/0/1 or 0/1 when relative
func (p *Path) String() string {
	steps := make([]string, 0, 1+p.Depth())
	if !p.relative {
		if p.fPriv {
			steps = append(steps, privatePathPrefix)
		} else {
			steps = append(steps, publicPathPrefix)
		}
	}

	for i := 0; i < p.Depth(); i++ {
		steps = append(steps, PathSegmentFromSequence(p.Path[i]))
	}

	return strings.Join(steps, "/")
}
