package builds

import (
	"fmt"

	"github.com/c2h5oh/datasize"
	"golang.org/x/sys/unix"
)

// checkDiskSpace verifies the filesystem holding the data directory has
// at least min bytes free. This allows the API to return 503
// synchronously instead of accepting a build that fails mid-run on a
// full disk.
func checkDiskSpace(dataDir string, min datasize.ByteSize) error {
	if min == 0 {
		return nil
	}

	var st unix.Statfs_t
	if err := unix.Statfs(dataDir, &st); err != nil {
		return fmt.Errorf("statfs %s: %w", dataDir, err)
	}

	free := datasize.ByteSize(st.Bavail * uint64(st.Bsize))
	if free < min {
		return fmt.Errorf("%w: %s free on %s, need %s",
			ErrDiskSpaceLow, free.HumanReadable(), dataDir, min.HumanReadable())
	}

	return nil
}
