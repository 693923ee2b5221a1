package database

// User queries
const (
	UpsertUserQuery = `
		INSERT INTO users (id, username, tag, profile_pic)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			tag = excluded.tag,
			profile_pic = excluded.profile_pic,
			updated_at = CURRENT_TIMESTAMP
	`

	SelectUserQuery = `
		SELECT id, username, tag, profile_pic, created_at
		FROM users
		WHERE id = ?
	`
)

// Friend queries
const (
	SelectFriendshipQuery = `
		SELECT 1 FROM friendships WHERE user_id = ? AND friend_id = ?
	`

	SelectFriendRequestQuery = `
		SELECT 1 FROM friend_requests WHERE from_id = ? AND to_id = ?
	`

	InsertFriendRequestQuery = `
		INSERT INTO friend_requests (from_id, to_id, created_at) VALUES (?, ?, ?)
	`

	DeleteFriendRequestQuery = `
		DELETE FROM friend_requests WHERE from_id = ? AND to_id = ?
	`

	InsertFriendshipQuery = `
		INSERT OR IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)
	`

	SelectFriendsQuery = `
		SELECT f.friend_id, COALESCE(u.username, ''), COALESCE(u.tag, ''), COALESCE(u.profile_pic, '')
		FROM friendships f
		LEFT JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY f.created_at, f.friend_id
	`

	SelectFriendRequestsQuery = `
		SELECT from_id, to_id, created_at
		FROM friend_requests
		WHERE to_id = ?
		ORDER BY created_at
	`
)

// Conversation queries
const (
	InsertConversationQuery = `
		INSERT INTO conversations (id, participant_a, participant_b, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(participant_a, participant_b) DO NOTHING
	`

	SelectConversationByPairQuery = `
		SELECT id, participant_a, participant_b, created_at
		FROM conversations
		WHERE participant_a = ? AND participant_b = ?
	`

	SelectConversationByIDQuery = `
		SELECT id, participant_a, participant_b, created_at
		FROM conversations
		WHERE id = ?
	`

	SelectConversationMessageIDsQuery = `
		SELECT message_id FROM conversation_messages
		WHERE conversation_id = ?
		ORDER BY rowid
	`

	AppendConversationMessageQuery = `
		INSERT INTO conversation_messages (conversation_id, message_id) VALUES (?, ?)
	`
)

// Message queries
const (
	InsertMessageQuery = `
		INSERT INTO messages (
			id, sender_id, receiver_id, conversation_id,
			text, image, delivered, seen, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	SelectConversationMessagesQuery = `
		SELECT m.id, m.sender_id, m.receiver_id, m.conversation_id,
			   m.text, m.image, m.delivered, m.seen, m.created_at
		FROM conversation_messages cm
		JOIN messages m ON m.id = cm.message_id
		WHERE cm.conversation_id = ?
		ORDER BY cm.rowid
	`

	SelectMessageQuery = `
		SELECT id, sender_id, receiver_id, conversation_id,
			   text, image, delivered, seen, created_at
		FROM messages
		WHERE id = ?
	`

	MarkMessagesDeliveredQuery = `
		UPDATE messages SET delivered = TRUE
		WHERE conversation_id = ? AND sender_id = ? AND receiver_id = ? AND delivered = FALSE
	`

	// Seen implies delivered.
	MarkMessagesSeenQuery = `
		UPDATE messages SET seen = TRUE, delivered = TRUE
		WHERE conversation_id = ? AND sender_id = ? AND receiver_id = ? AND seen = FALSE
	`

	DeliverPendingQuery = `
		UPDATE messages SET delivered = TRUE
		WHERE receiver_id = ? AND delivered = FALSE
		RETURNING sender_id
	`
)

// Call log queries
const (
	InsertCallLogQuery = `
		INSERT INTO call_logs (id, caller_id, callee_id, call_type, status, duration, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	SelectCallLogQuery = `
		SELECT id, caller_id, callee_id, call_type, status, duration, created_at
		FROM call_logs
		WHERE id = ?
	`

	// Only a missed call can be finalized.
	UpdateCallStatusQuery = `
		UPDATE call_logs SET status = ?, duration = ?
		WHERE id = ? AND status = 'missed'
	`

	selectPopulatedCallLogColumns = `
		SELECT c.id,
			   c.caller_id, COALESCE(cu.username, ''), COALESCE(cu.tag, ''), COALESCE(cu.profile_pic, ''),
			   c.callee_id, COALESCE(ce.username, ''), COALESCE(ce.tag, ''), COALESCE(ce.profile_pic, ''),
			   c.call_type, c.status, c.duration, c.created_at
		FROM call_logs c
		LEFT JOIN users cu ON cu.id = c.caller_id
		LEFT JOIN users ce ON ce.id = c.callee_id
	`

	SelectPopulatedCallLogQuery = selectPopulatedCallLogColumns + `
		WHERE c.id = ?
	`

	SelectCallHistoryQuery = selectPopulatedCallLogColumns + `
		WHERE c.caller_id = ? OR c.callee_id = ?
		ORDER BY c.created_at DESC
		LIMIT ?
	`
)
