package util

import (
	"io"
	"os"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"
)

// CopyFile copies src to dst, preserving the source file's mode. dst is
// truncated if it already exists.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "problem stating '%s'", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "problem opening '%s'", src)
	}
	defer func() { grip.Debug(in.Close()) }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return errors.Wrapf(err, "problem creating '%s'", dst)
	}

	if _, err = io.Copy(out, in); err != nil {
		grip.Debug(out.Close())
		return errors.Wrapf(err, "problem copying '%s' to '%s'", src, dst)
	}

	return errors.Wrapf(out.Close(), "problem closing '%s'", dst)
}
