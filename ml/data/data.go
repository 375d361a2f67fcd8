/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package data is a collection of tools that facilitate data loading and preprocessing.
//
// The record file format and the datasets built on it live in the sub-package records.
package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// FileExists returns true if file or directory exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	if err == nil {
		return true
	}
	if errors.Is(err, os.ErrNotExist) {
		return false
	}
	panic(err)
}

// ReplaceTildeInDir by the user's home directory. Returns dir if it doesn't start with "~".
func ReplaceTildeInDir(dir string) string {
	if len(dir) == 0 || dir[0] != '~' {
		return dir
	}
	usr, err := user.Current()
	if err != nil {
		klog.Warningf("failed to find current user's home directory for %q: %v", dir, err)
		return dir
	}
	return filepath.Join(usr.HomeDir, dir[1:])
}

// ExpandFiles replaces "~" by the home directory and expands glob patterns in the given list of files.
//
// Paths without glob meta-characters are returned as is, even if they don't exist. A pattern that
// matches no file is an error. The order of the paths is preserved, and matches of each pattern are sorted.
func ExpandFiles(patterns ...string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		pattern = ReplaceTildeInDir(pattern)
		if !strings.ContainsAny(pattern, "*?[") {
			files = append(files, pattern)
			continue
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid file pattern %q", pattern)
		}
		if len(matches) == 0 {
			return nil, errors.Errorf("file pattern %q matched no files", pattern)
		}
		files = append(files, matches...)
	}
	return files, nil
}

// FileChecksum returns the hex encoded sha256 hash of the contents of the file.
func FileChecksum(path string) (string, error) {
	hasher := sha256.New()
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() {
		_ = f.Close() // Discard reading error on Close.
	}()

	_, err = io.Copy(hasher, f)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %q", path)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// copyBytesBar copies bytes from an io.Reader to an io.Writer while displaying a progressbar.
// It requires knowing the contentLength.
type copyBytesBar struct {
	w                             io.Writer
	bar                           *progressbar.ProgressBar
	contentLength, amountWritten  int64
	barUnit, numUnits, addedUnits int64
}

// newCopyBytesBar creates a new copyBytesBar. It requires knowing the contentLength.
func newCopyBytesBar(w io.Writer, contentLength int64, description string) *copyBytesBar {
	bar := &copyBytesBar{w: w, contentLength: contentLength}
	bar.barUnit = 1
	for contentLength > bar.barUnit*1024*1024 {
		bar.barUnit *= 1024
	}
	bar.numUnits = (contentLength + bar.barUnit - 1) / bar.barUnit
	bar.bar = progressbar.NewOptions(int(bar.numUnits),
		progressbar.OptionSetDescription(fmt.Sprintf("%s (%s)", description, humanize.IBytes(uint64(contentLength)))),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: ".",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return bar
}

// Write implements io.Write, while updating the progress bar.
func (bar *copyBytesBar) Write(p []byte) (n int, err error) {
	n, err = bar.w.Write(p)
	bar.amountWritten += int64(n)
	toUnits := bar.amountWritten / bar.barUnit
	if toUnits > bar.addedUnits {
		_ = bar.bar.Add(int(toUnits - bar.addedUnits))
		bar.addedUnits = toUnits
	}
	return
}

// CopyWithProgressBar is similar to io.Copy, but updates the progress bar with the amount
// of data copied.
//
// It requires knowing the amount of data to copy up-front.
func CopyWithProgressBar(dst io.Writer, src io.Reader, contentLength int64, description string) (n int64, err error) {
	bar := newCopyBytesBar(dst, contentLength, description)
	n, err = io.Copy(bar, src)
	if bar.addedUnits < bar.numUnits {
		_ = bar.bar.Add(int(bar.numUnits - bar.addedUnits))
	}
	_ = bar.bar.Close()
	fmt.Println()
	return
}

// ConcatenateFiles appends the contents of each of the srcPaths to dst, optionally
// displaying a progress bar per file. It returns the total number of bytes copied.
//
// Files made of self-delimited records (like the ones written by records.Writer) remain
// valid when concatenated.
func ConcatenateFiles(dst io.Writer, showProgressBar bool, srcPaths ...string) (total int64, err error) {
	for _, srcPath := range srcPaths {
		var n int64
		n, err = copyFile(dst, srcPath, showProgressBar)
		total += n
		if err != nil {
			return
		}
	}
	return
}

func copyFile(dst io.Writer, srcPath string, showProgressBar bool) (n int64, err error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %q", srcPath)
	}
	defer func() { _ = f.Close() }()
	if showProgressBar {
		info, statErr := f.Stat()
		if statErr != nil {
			return 0, errors.Wrapf(statErr, "failed to stat %q", srcPath)
		}
		n, err = CopyWithProgressBar(dst, f, info.Size(), filepath.Base(srcPath))
	} else {
		n, err = io.Copy(dst, f)
	}
	if err != nil {
		return n, errors.Wrapf(err, "failed copying %q", srcPath)
	}
	return n, nil
}
