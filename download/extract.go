package download

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/mholt/archiver/v3"
)

// Extract unpacks the archive members whose path matches pattern into
// destDir, flattening directory structure. It returns the paths of the
// extracted files. 7z and zip archives are read member by member; other
// formats are unpacked wholesale and filtered afterwards.
func Extract(src, destDir, pattern string) ([]string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(src)) {
	case ".7z":
		return extract7z(src, destDir, re)
	case ".zip":
		return extractZip(src, destDir, re)
	default:
		return extractOther(src, destDir, re)
	}
}

func extract7z(src, destDir string, re *regexp.Regexp) ([]string, error) {
	reader, err := sevenzip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var extracted []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !re.MatchString(file.Name) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, err
		}

		outPath := filepath.Join(destDir, filepath.Base(file.Name))
		err = writeFile(outPath, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		extracted = append(extracted, outPath)
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("no member of %s matches '%s'", filepath.Base(src), re)
	}
	return extracted, nil
}

func extractZip(src, destDir string, re *regexp.Regexp) ([]string, error) {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var extracted []string
	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !re.MatchString(file.Name) {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return nil, err
		}

		outPath := filepath.Join(destDir, filepath.Base(file.Name))
		err = writeFile(outPath, rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		extracted = append(extracted, outPath)
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("no member of %s matches '%s'", filepath.Base(src), re)
	}
	return extracted, nil
}

// extractOther hands the archive to archiver and walks the result for
// matching files, since archiver has no per-member filter.
func extractOther(src, destDir string, re *regexp.Regexp) ([]string, error) {
	if err := archiver.Unarchive(src, destDir); err != nil {
		return nil, err
	}

	var extracted []string
	err := filepath.WalkDir(destDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if re.MatchString(path) {
			extracted = append(extracted, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(extracted) == 0 {
		return nil, fmt.Errorf("no member of %s matches '%s'", filepath.Base(src), re)
	}
	return extracted, nil
}

func writeFile(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	return err
}
