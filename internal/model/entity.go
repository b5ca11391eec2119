package model

import (
	"time"
)

// User 사용자 (Principal)
type User struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  string    `gorm:"type:varchar(60);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Password  string    `gorm:"type:varchar(100)" json:"-"` // bcrypt 해시, 게스트는 임의 값
	Role      Role      `gorm:"type:varchar(20);default:'student'" json:"role"`
	IsGuest   bool      `gorm:"default:false" json:"is_guest"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (User) TableName() string {
	return "users"
}

// Group 수업 세션
type Group struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string     `gorm:"type:varchar(100);not null" json:"name"`
	Code      string     `gorm:"type:varchar(6);not null;index" json:"code"`
	AdminID   string     `gorm:"type:varchar(36);not null;index" json:"admin_id"`
	IsActive  bool       `gorm:"not null;index" json:"is_active"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`
}

func (Group) TableName() string {
	return "class_groups"
}

// Clone 멤버 목록까지 복사
func (g *Group) Clone() *Group {
	if g == nil {
		return nil
	}
	cp := *g
	if g.EndedAt != nil {
		t := *g.EndedAt
		cp.EndedAt = &t
	}
	cp.Members = append([]GroupMember(nil), g.Members...)
	return &cp
}

// GroupMember 세션 멤버십
type GroupMember struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	GroupID  string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_member" json:"group_id"`
	UserID   string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_group_member;index" json:"user_id"`
	JoinedAt time.Time `gorm:"not null" json:"joined_at"`
}

func (GroupMember) TableName() string {
	return "group_members"
}

// ReadSet 읽음 처리한 사용자 집합 (userID -> readAt)
type ReadSet map[string]time.Time

// Has 읽음 여부
func (s ReadSet) Has(userID string) bool {
	_, ok := s[userID]
	return ok
}

// Message 채팅 메시지
type Message struct {
	ID          string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GroupID     string      `gorm:"type:varchar(36);not null;index:idx_messages_group_created" json:"group_id"`
	SenderID    string      `gorm:"type:varchar(36);not null;index" json:"sender_id"`
	RecipientID *string     `gorm:"type:varchar(36);index" json:"recipient_id,omitempty"` // 귓속말 대상
	Body        string      `gorm:"type:text" json:"body"`
	Kind        MessageKind `gorm:"type:varchar(20);default:'text'" json:"kind"`
	PollID      *string     `gorm:"type:varchar(36)" json:"poll_id,omitempty"`
	ReplyToID   *string     `gorm:"type:varchar(36)" json:"reply_to_id,omitempty"`

	// 첨부 파일
	FileURL  *string `gorm:"type:text" json:"file_url,omitempty"`
	FileName *string `gorm:"type:varchar(255)" json:"file_name,omitempty"`
	FileSize *int64  `json:"file_size,omitempty"`
	FileType *string `gorm:"type:varchar(100)" json:"file_type,omitempty"`

	IsEdited  bool       `gorm:"default:false" json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `gorm:"default:false;index" json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	ReadBy    ReadSet    `gorm:"type:text;serializer:json" json:"read_by"`
	CreatedAt time.Time  `gorm:"not null;index:idx_messages_group_created" json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// IsPrivate 귓속말 여부
func (m *Message) IsPrivate() bool {
	return m.RecipientID != nil && *m.RecipientID != ""
}

// VisibleTo 해당 사용자가 볼 수 있는 메시지인지 확인
func (m *Message) VisibleTo(userID string) bool {
	if !m.IsPrivate() {
		return true
	}
	return m.SenderID == userID || *m.RecipientID == userID
}

// Clone 읽음 집합까지 복사
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.ReadBy = make(ReadSet, len(m.ReadBy))
	for k, v := range m.ReadBy {
		cp.ReadBy[k] = v
	}
	return &cp
}

// PollOption 선택지
type PollOption struct {
	Text   string   `json:"text"`
	Voters []string `json:"voters"` // 투표 순서 유지
}

// PollAnswer 주관식 응답
type PollAnswer struct {
	UserID      string    `json:"user_id"`
	Text        string    `json:"text"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Poll 투표
type Poll struct {
	ID                 string           `gorm:"primaryKey;type:varchar(36)" json:"id"`
	GroupID            string           `gorm:"type:varchar(36);not null;index" json:"group_id"`
	CreatorID          string           `gorm:"type:varchar(36);not null" json:"creator_id"`
	Kind               PollKind         `gorm:"type:varchar(20);not null" json:"kind"`
	Question           string           `gorm:"type:varchar(500);not null" json:"question"`
	Options            []PollOption     `gorm:"type:text;serializer:json" json:"options,omitempty"`
	Answers            []PollAnswer     `gorm:"type:text;serializer:json" json:"answers,omitempty"`
	Ballots            map[string][]int `gorm:"type:text;serializer:json" json:"-"` // userID -> 선택한 옵션 인덱스
	Answered           map[string]int   `gorm:"type:text;serializer:json" json:"-"` // userID -> Answers 인덱스
	AllowMultipleVotes bool             `gorm:"default:false" json:"allow_multiple_votes"`
	IsAnonymous        bool             `gorm:"default:false" json:"is_anonymous"`
	IsActive           bool             `gorm:"not null;index" json:"is_active"`
	ExpiresAt          time.Time        `gorm:"not null" json:"expires_at"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (Poll) TableName() string {
	return "polls"
}

// HasVoted 선택형 투표 참여 여부
func (p *Poll) HasVoted(userID string) bool {
	return len(p.Ballots[userID]) > 0
}

// HasAnswered 주관식 응답 여부
func (p *Poll) HasAnswered(userID string) bool {
	_, ok := p.Answered[userID]
	return ok
}

// TotalVotes 전체 투표 수
func (p *Poll) TotalVotes() int {
	total := 0
	for _, opt := range p.Options {
		total += len(opt.Voters)
	}
	return total
}

// IsExpired 만료 여부
func (p *Poll) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Clone 선택지/응답까지 복사
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Options = make([]PollOption, len(p.Options))
	for i, opt := range p.Options {
		cp.Options[i] = PollOption{Text: opt.Text, Voters: append([]string(nil), opt.Voters...)}
	}
	cp.Answers = append([]PollAnswer(nil), p.Answers...)
	cp.Ballots = make(map[string][]int, len(p.Ballots))
	for k, v := range p.Ballots {
		cp.Ballots[k] = append([]int(nil), v...)
	}
	cp.Answered = make(map[string]int, len(p.Answered))
	for k, v := range p.Answered {
		cp.Answered[k] = v
	}
	return &cp
}

// Upload 업로드된 파일
type Upload struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UploaderID string    `gorm:"type:varchar(36);not null;index" json:"uploader_id"`
	URL        string    `gorm:"type:text;not null" json:"url"`
	Name       string    `gorm:"type:varchar(255);not null" json:"name"`
	Size       int64     `json:"size"`
	MimeType   string    `gorm:"type:varchar(100)" json:"mime_type"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (Upload) TableName() string {
	return "uploads"
}
