package git

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"strconv"
)

const (
	// HashSize is the size hash for the current hash algorithm being used.
	HashSize = sha1.Size

	ModeRegular    = 0100644
	ModeExecutable = 0100755
	ModeSymlink    = 0120000
)

// Object is a single entry of a tree listing.
type Object struct {
	Name string
	Mode int
	Type ObjectType
	Hash string
	Size int64
}

// FileMode converts the git mode of the object into a permission set
// suitable for writing it to disk.
func (o *Object) FileMode() fs.FileMode {
	if o.Mode&0111 != 0 {
		return 0755
	}
	return 0644
}

type ObjectType uint8

const (
	ObjBlob ObjectType = iota
	ObjTree
	ObjCommit
	ObjTag
	ObjUnknown
)

func (ot ObjectType) String() string {
	switch ot {
	case ObjBlob:
		return "blob"
	case ObjTree:
		return "tree"
	case ObjCommit:
		return "commit"
	case ObjTag:
		return "tag"
	default:
		return "unknown"
	}
}

func objectType(s string) ObjectType {
	switch s {
	case "blob":
		return ObjBlob
	case "tree":
		return ObjTree
	case "commit":
		return ObjCommit
	case "tag":
		return ObjTag
	default:
		return ObjUnknown
	}
}

// GitMode returns the mode git records for a regular file with the given
// permissions.
func GitMode(perm fs.FileMode) int {
	if perm&0100 != 0 {
		return ModeExecutable
	}
	return ModeRegular
}

// BlobHash computes the object id git would assign to a blob of the given
// size and contents.
func BlobHash(r io.Reader, size int64) (string, error) {
	raw, err := objectHash(ObjBlob, uint64(size), r)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// HashFile computes the blob object id of a file on disk.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return "", err
	}
	return BlobHash(f, stat.Size())
}

func objectHash(typ ObjectType, size uint64, r io.Reader) ([]byte, error) {
	h := sha1.New()
	h.Write([]byte(typ.String()))
	h.Write([]byte{' '})
	h.Write([]byte(strconv.FormatUint(size, 10)))
	h.Write([]byte{0})
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, err
	}
	if uint64(n) != size {
		return nil, io.ErrUnexpectedEOF
	}
	return h.Sum(nil), nil
}
