package models

import "strings"

// conversationKeySeparator joins the two participant ids of a conversation key.
const conversationKeySeparator = ":"

// ValidParticipantID reports whether id can take part in a conversation key:
// non-empty and free of the separator. Keys built from valid ids are unique
// per unordered pair.
func ValidParticipantID(id string) bool {
	return id != "" && !strings.Contains(id, conversationKeySeparator)
}

// ConversationKey 由两个参与者 ID 推导出确定的会话键，与参数顺序无关：
// ConversationKey(a, b) == ConversationKey(b, a)。
// 与好友关系的规范顺序一样，较小的 ID 总是在前。
// 调用方必须先用 ValidParticipantID 校验两个 ID。
func ConversationKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + conversationKeySeparator + userB
}

// ParticipantsOf splits a conversation key back into its two participant ids.
// ok is false when key was not produced by ConversationKey.
func ParticipantsOf(key string) (userA, userB string, ok bool) {
	userA, userB, ok = strings.Cut(key, conversationKeySeparator)
	if !ok || userA == "" || userB == "" || strings.Contains(userB, conversationKeySeparator) {
		return "", "", false
	}
	return userA, userB, true
}
