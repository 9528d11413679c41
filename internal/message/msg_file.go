package message

// AuthorType classifies the writer behind a change.
type AuthorType string

const (
	AuthorHuman AuthorType = "human"
	AuthorAgent AuthorType = "agent"
)

// FileDiff is one change to one file by one author. Id is assigned by the
// relay store; a client-originated diff carries Id 0 until it is persisted.
type FileDiff struct {
	Id              int64      `json:"id,omitempty" db:"id"`
	File            string     `json:"file" db:"file"`
	Patch           string     `json:"patch" db:"patch"`
	Author          string     `json:"author" db:"author"`
	Type            AuthorType `json:"type" db:"type"`
	Timestamp       int64      `json:"timestamp" db:"timestamp"`
	Version         string     `json:"version" db:"version"`
	PreviousVersion string     `json:"previousVersion" db:"previous_version"`
	Compressed      bool       `json:"compressed,omitempty" db:"compressed"`
}

type FileDelete struct {
	File   string `json:"file"`
	Author string `json:"author"`
}

type FileRename struct {
	OldFile string `json:"oldFile"`
	NewFile string `json:"newFile"`
	Author  string `json:"author"`
}

// FullFile carries whole-file content for files with no patch base.
type FullFile struct {
	File    string `json:"file"`
	Content string `json:"content"`
	Hash    string `json:"hash"`
}

// ConflictEvent records two overlapping patches to the same file. The
// conflict copy is never written by the relay; ConflictFile is the name a
// client may materialize.
type ConflictEvent struct {
	Id           int64  `json:"id,omitempty" db:"id"`
	File         string `json:"file" db:"file"`
	ConflictFile string `json:"conflictFile" db:"conflict_file"`
	AuthorA      string `json:"authorA" db:"author_a"`
	AuthorB      string `json:"authorB" db:"author_b"`
	Timestamp    int64  `json:"timestamp" db:"timestamp"`
	Resolved     bool   `json:"resolved" db:"resolved"`
}

func NewFileDiff(d *FileDiff) *Message {
	return &Message{Id: generateID(), Type: TypeFileDiff, Data: d}
}

func NewFileDelete(file, author string) *Message {
	return &Message{Id: generateID(), Type: TypeFileDelete, Data: &FileDelete{File: file, Author: author}}
}

func NewFileRename(oldFile, newFile, author string) *Message {
	return &Message{Id: generateID(), Type: TypeFileRename, Data: &FileRename{OldFile: oldFile, NewFile: newFile, Author: author}}
}

func NewFullFile(file, content, hash string) *Message {
	return &Message{Id: generateID(), Type: TypeSyncFullFile, Data: &FullFile{File: file, Content: content, Hash: hash}}
}

func NewApplyFullFile(file, content, hash string) *Message {
	return &Message{Id: generateID(), Type: TypeSyncApplyFullFile, Data: &FullFile{File: file, Content: content, Hash: hash}}
}

func NewFileConflict(e *ConflictEvent) *Message {
	return &Message{Id: generateID(), Type: TypeFileConflict, Data: e}
}
