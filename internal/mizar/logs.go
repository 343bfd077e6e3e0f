package mizar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/pgzip"
)

// compressOldLogs gzips build logs older than age and removes the
// originals. Already compressed logs are left alone.
func compressOldLogs(logDir string, age time.Duration) (int, error) {
	entries, err := os.ReadDir(logDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	cutoff := time.Now().Add(-age)
	compressed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".log") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		src := filepath.Join(logDir, e.Name())
		if err := compressLog(src); err != nil {
			cPrintf(colWarn, "could not compress %s: %v\n", src, err)
			continue
		}
		os.Remove(src)
		compressed++
	}
	return compressed, nil
}

func compressLog(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}
	defer out.Close()

	zw := pgzip.NewWriter(out)
	if _, err := io.Copy(zw, in); err != nil {
		zw.Close()
		os.Remove(out.Name())
		return err
	}
	if err := zw.Close(); err != nil {
		os.Remove(out.Name())
		return err
	}
	return out.Close()
}

// pruneStaleGraphs removes graph files, launchers and stamps older than
// age, plus any orphaned temp files left by an interrupted write.
func pruneStaleGraphs(graphDir string, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age)
	removed := 0
	err := filepath.WalkDir(graphDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if strings.Contains(name, ".tmp-") {
			os.Remove(path)
			removed++
			return nil
		}
		if !strings.HasSuffix(name, ".graph") && !strings.HasSuffix(name, ".launch.sh") && !strings.HasSuffix(name, ".stamp") {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.ModTime().After(cutoff) {
			return nil
		}
		os.Remove(path)
		removed++
		return nil
	})
	if os.IsNotExist(err) {
		err = nil
	}
	return removed, err
}

// readLog opens a build log, transparently decompressing .gz files.
func readLog(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return "", fmt.Errorf("decompressing %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// askForConfirmation prompts the user with a yes/no question.
func askForConfirmation(p colorPrinter, question string) bool {
	cPrintf(p, "%s [y/N] ", question)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))
	return input == "y" || input == "yes"
}
