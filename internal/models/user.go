package models

// User 代表系统中的用户资料。资料的编辑不在本服务范围内，这里只读取。
type User struct {
	ID        string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username  string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Nickname  string `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`
	Bio       string `gorm:"type:text" json:"bio,omitempty"`
}

// UserBasicInfo holds minimal public information about a user.
// Used as the partner profile of a conversation summary.
type UserBasicInfo struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}

// BasicInfo 返回用户的公开信息。
func (u *User) BasicInfo() *UserBasicInfo {
	return &UserBasicInfo{
		ID:        u.ID,
		Username:  u.Username,
		Nickname:  u.Nickname,
		AvatarURL: u.AvatarURL,
	}
}
