// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

// An Inode is an in-core inode. Only special files matter here:
// for them Dev is the device the inode stands for.
type Inode struct {
	Count int
	Dev   DeviceID
	Mode  uint16
}

func (ip *Inode) special() bool {
	t := ip.Mode & I_TYPE
	return t == I_CHAR_SPECIAL || t == I_BLOCK_SPECIAL
}

// A File is an entry of the open file table, shared by every
// descriptor that was dup'ed or inherited from the same open.
type File struct {
	Count int
	Inode *Inode
	Flags int
	Pos   int64
}

// A SuperBlock describes a mounted file system.
type SuperBlock struct {
	Dev      DeviceID
	ReadOnly bool
}

// A FileTable is a FileSystem kept entirely in core.
type FileTable struct {
	Supers    []*SuperBlock
	MaxInodes int // 0 means no limit

	files  []*File
	inodes int
}

func (t *FileTable) SuperBlocks() []*SuperBlock { return t.Supers }

func (t *FileTable) Files() []*File {
	var fs []*File
	for _, f := range t.files {
		if f.Count > 0 {
			fs = append(fs, f)
		}
	}
	t.files = fs
	return fs
}

func (t *FileTable) AllocInode(mode uint16) (*Inode, Errno) {
	if t.MaxInodes > 0 && t.inodes >= t.MaxInodes {
		return nil, ENFILE
	}
	t.inodes++
	return &Inode{Count: 1, Mode: mode}, 0
}

func (t *FileTable) PutInode(ip *Inode) {
	if ip.Count <= 0 {
		return
	}
	ip.Count--
	if ip.Count == 0 {
		t.inodes--
	}
}

func (t *FileTable) AllocFile(ip *Inode, flags int) *File {
	f := &File{Count: 1, Inode: ip, Flags: flags}
	t.files = append(t.files, f)
	return f
}

// Mount records a file system mounted from dev.
func (t *FileTable) Mount(dev DeviceID, readOnly bool) *SuperBlock {
	sb := &SuperBlock{Dev: dev, ReadOnly: readOnly}
	t.Supers = append(t.Supers, sb)
	return sb
}

// MakeNode returns a new special-file inode for dev.
func (t *FileTable) MakeNode(dev DeviceID, mode uint16) (*Inode, Errno) {
	ip, e := t.AllocInode(mode)
	if e != 0 {
		return nil, e
	}
	ip.Dev = dev
	return ip, 0
}
