// Copyright (c) 2018 Shivaram Lingamneni

package utils

import (
	"errors"
	"io"
	"os"
)

var (
	ErrBackupExists = errors.New("Backup file already exists")
)

// CopyFile writes a durable copy of src to dst, for backups taken before a
// schema upgrade. dst must not exist; it gets the permission bits of src,
// and the copy is synced to disk before CopyFile returns.
func CopyFile(src string, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if errors.Is(err, os.ErrExist) {
		return ErrBackupExists
	} else if err != nil {
		return
	}
	defer func() {
		closeError := out.Close()
		if err == nil {
			err = closeError
		}
		if err != nil {
			os.Remove(dst)
		}
	}()
	if _, err = io.Copy(out, in); err != nil {
		return
	}
	return out.Sync()
}
