package paper

import "time"

// Paper is the persistent model for a shared research paper. The `version`
// field is an optimistic-concurrency stamp owned by the store adapter;
// callers never set it.
type Paper struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	AuthorID  string    `json:"authorId" bson:"authorId"`
	Likes     int       `json:"likes" bson:"likes"`
	LikedBy   []string  `json:"likedBy" bson:"likedBy"`
	Version   int64     `json:"-" bson:"version"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// LikedByContains reports whether uid is present in the likedBy set.
func (p *Paper) LikedByContains(uid string) bool {
	for _, v := range p.LikedBy {
		if v == uid {
			return true
		}
	}
	return false
}

// Comment belongs to exactly one paper and is immutable except for deletion.
// Timestamp is a pointer: a nil value means the server has not assigned one
// yet and the comment sorts before every timestamped comment.
type Comment struct {
	ID        string     `json:"id" bson:"id"`
	PaperID   string     `json:"paperId" bson:"paperId"`
	UserID    string     `json:"userId" bson:"userId"`
	Text      string     `json:"text" bson:"text"`
	Timestamp *time.Time `json:"timestamp,omitempty" bson:"timestamp,omitempty"`
}
