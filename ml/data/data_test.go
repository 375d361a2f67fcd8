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

package data

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.rec", "a.rec", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(name), 0o644))
	}
	assert.True(t, FileExists(filepath.Join(dir, "a.rec")))
	assert.False(t, FileExists(filepath.Join(dir, "missing.rec")))

	files, err := ExpandFiles(filepath.Join(dir, "*.rec"), filepath.Join(dir, "c.txt"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.rec"), filepath.Join(dir, "b.rec"), filepath.Join(dir, "c.txt"),
	}, files)
	_, err = ExpandFiles(filepath.Join(dir, "*.none"))
	require.Error(t, err)

	assert.Equal(t, "/some/dir", ReplaceTildeInDir("/some/dir"))

	var buf bytes.Buffer
	n, err := ConcatenateFiles(&buf, false, filepath.Join(dir, "a.rec"), filepath.Join(dir, "b.rec"))
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
	assert.Equal(t, "a.recb.rec", buf.String())
}

func TestFileChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))
	// sha256("hello")
	const helloHash = "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	hash, err := FileChecksum(path)
	require.NoError(t, err)
	assert.Equal(t, helloHash, hash)
	_, err = FileChecksum(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}
