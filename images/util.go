package images

import (
	"crypto/md5" //nolint:gosec
	"fmt"

	"gocv.io/x/gocv"
)

// MatChecksum generates a deterministic checksum of the pixel data of a Mat,
// used to check that a conversion is repeatable.
//
// Arguments:
//   - mat: The Mat to compute the checksum for.
//
// Returns:
//   - A hex-encoded MD5 checksum string, or "empty" for an empty Mat.
func MatChecksum(mat gocv.Mat) string {
	if mat.Empty() {
		return "empty"
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		// Non 8-bit or non-continuous data; hash a continuous copy instead.
		clone := mat.Clone()
		defer clone.Close()
		data = clone.ToBytes()
	}
	hash := md5.New() //nolint:gosec
	hash.Write(data)
	return fmt.Sprintf("%x", hash.Sum(nil))
}
