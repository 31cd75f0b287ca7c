package storage

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tavernhq/tavernmsg/internal/server/models"
)

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

func New(databaseURL string, log *slog.Logger) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Info("connected to database")
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() {
	s.db.Close()
}

// EnsureSchema creates the tables on first run.
func (s *Store) EnsureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			avatar_url TEXT NOT NULL DEFAULT '',
			level INT NOT NULL DEFAULT 1,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS auth_tokens (
			token TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			name TEXT,
			is_group BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS conversation_participants (
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			user_id BIGINT NOT NULL REFERENCES users(id),
			last_read_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (conversation_id, user_id)
		);
		CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			sender_id BIGINT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL DEFAULT '',
			message_type TEXT NOT NULL DEFAULT 'text',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS attachments (
			id TEXT PRIMARY KEY,
			conversation_id BIGINT NOT NULL REFERENCES conversations(id),
			uploader_id BIGINT NOT NULL REFERENCES users(id),
			message_id BIGINT REFERENCES messages(id),
			file_name TEXT NOT NULL,
			content_type TEXT NOT NULL,
			url TEXT NOT NULL,
			size_bytes BIGINT NOT NULL,
			is_image BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
	`)
	return err
}

// User methods

func (s *Store) CreateUser(username, passwordHash string) (int64, error) {
	var userID int64
	err := s.db.QueryRow(
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id",
		username, passwordHash,
	).Scan(&userID)
	return userID, err
}

func (s *Store) GetUserByUsername(username string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(
		"SELECT id, username, password_hash, avatar_url, level FROM users WHERE username = $1",
		username,
	).Scan(&u.ID, &u.Username, &u.PasswordHash, &u.AvatarURL, &u.Level)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) CheckUserExists(username string) (bool, int64) {
	var userID int64
	err := s.db.QueryRow("SELECT id FROM users WHERE username = $1", username).Scan(&userID)
	if err != nil {
		return false, 0
	}
	return true, userID
}

// Token methods

func (s *Store) CreateToken(userID int64) (string, error) {
	token := uuid.NewString()
	_, err := s.db.Exec(
		"INSERT INTO auth_tokens (token, user_id) VALUES ($1, $2)",
		token, userID,
	)
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *Store) GetUserByToken(token string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRow(`
		SELECT u.id, u.username, u.avatar_url, u.level
		FROM auth_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token = $1
	`, token).Scan(&u.ID, &u.Username, &u.AvatarURL, &u.Level)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Conversation methods

func (s *Store) StartConversation(creatorID int64, req models.StartConversationRequest) (*models.Conversation, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var convID int64
	var name *string
	if req.Name != "" {
		name = &req.Name
	}

	err = tx.QueryRow(
		"INSERT INTO conversations (name, is_group) VALUES ($1, $2) RETURNING id",
		name, req.IsGroup,
	).Scan(&convID)
	if err != nil {
		return nil, err
	}

	// Add creator
	_, err = tx.Exec(
		"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2)",
		convID, creatorID,
	)
	if err != nil {
		return nil, err
	}

	// Add other participants
	for _, username := range req.Participants {
		exists, userID := s.CheckUserExists(username)
		if exists {
			tx.Exec(
				"INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				convID, userID,
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	conv := &models.Conversation{ID: convID, Name: name, IsGroup: req.IsGroup}
	conv.Participants, _ = s.GetParticipants(convID)
	return conv, nil
}

func (s *Store) GetParticipants(convID int64) ([]models.Participant, error) {
	rows, err := s.db.Query(`
		SELECT u.id, u.username, u.avatar_url, u.level
		FROM conversation_participants cp
		JOIN users u ON u.id = cp.user_id
		WHERE cp.conversation_id = $1
		ORDER BY u.username
	`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parts []models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.AvatarURL, &p.Level); err != nil {
			continue
		}
		parts = append(parts, p)
	}
	return parts, rows.Err()
}

func (s *Store) GetUserConversations(userID int64) ([]models.Conversation, error) {
	rows, err := s.db.Query(`
		SELECT
			c.id,
			COALESCE(c.name, (
				SELECT u.username
				FROM conversation_participants cp2
				JOIN users u ON cp2.user_id = u.id
				WHERE cp2.conversation_id = c.id AND cp2.user_id != $1
				LIMIT 1
			)) as name,
			c.is_group,
			c.created_at,
			c.updated_at,
			(SELECT m.content FROM messages m
			 WHERE m.conversation_id = c.id
			 ORDER BY m.created_at DESC LIMIT 1) as last_message,
			(SELECT COUNT(*) FROM messages m
			 WHERE m.conversation_id = c.id
			 AND m.created_at > cp.last_read_at) as unread_count
		FROM conversations c
		JOIN conversation_participants cp ON c.id = cp.conversation_id
		WHERE cp.user_id = $1
		ORDER BY c.updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []models.Conversation
	for rows.Next() {
		var c models.Conversation
		var lastMessage sql.NullString
		if err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.CreatedAt, &c.UpdatedAt, &lastMessage, &c.UnreadCount); err != nil {
			s.log.Warn("scanning conversation", "error", err)
			continue
		}
		if lastMessage.Valid {
			c.LastMessage = &lastMessage.String
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range convs {
		convs[i].Participants, _ = s.GetParticipants(convs[i].ID)
	}
	return convs, nil
}

func (s *Store) IsParticipant(convID, userID int64) bool {
	var one int
	err := s.db.QueryRow(
		"SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2",
		convID, userID,
	).Scan(&one)
	return err == nil
}

func (s *Store) UpdateReadReceipt(userID, conversationID int64) error {
	_, err := s.db.Exec(`
		UPDATE conversation_participants
		SET last_read_at = NOW()
		WHERE user_id = $1 AND conversation_id = $2
	`, userID, conversationID)
	return err
}

// Attachment methods

func (s *Store) SaveAttachment(convID, uploaderID int64, a models.Attachment, sizeBytes int64) error {
	_, err := s.db.Exec(`
		INSERT INTO attachments (id, conversation_id, uploader_id, file_name, content_type, url, size_bytes, is_image)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, convID, uploaderID, a.FileName, a.ContentType, a.URL, sizeBytes, a.IsImage)
	return err
}

func (s *Store) getAttachmentsForMessage(messageID int64) []models.Attachment {
	rows, err := s.db.Query(`
		SELECT id, file_name, content_type, url, size_bytes, is_image
		FROM attachments WHERE message_id = $1 ORDER BY created_at
	`, messageID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var atts []models.Attachment
	for rows.Next() {
		var a models.Attachment
		var sizeBytes int64
		if err := rows.Scan(&a.ID, &a.FileName, &a.ContentType, &a.URL, &sizeBytes, &a.IsImage); err != nil {
			continue
		}
		a.Size = humanize.Bytes(uint64(sizeBytes))
		atts = append(atts, a)
	}
	return atts
}

// Message methods

func (s *Store) SaveMessage(convID, senderID int64, content string, fileIDs []string) (*models.Message, error) {
	var msg models.Message
	err := s.db.QueryRow(`
		INSERT INTO messages (conversation_id, sender_id, content)
		VALUES ($1, $2, $3)
		RETURNING id, conversation_id, sender_id, content, message_type, created_at
	`, convID, senderID, content).Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Content, &msg.MessageType, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}

	if len(fileIDs) > 0 {
		// Claim only attachments uploaded to this conversation by this sender.
		_, err = s.db.Exec(`
			UPDATE attachments SET message_id = $1
			WHERE id = ANY($2) AND conversation_id = $3 AND uploader_id = $4 AND message_id IS NULL
		`, msg.ID, pq.Array(fileIDs), convID, senderID)
		if err != nil {
			return nil, fmt.Errorf("link attachments: %w", err)
		}
		msg.Attachments = s.getAttachmentsForMessage(msg.ID)
	}

	s.db.Exec("UPDATE conversations SET updated_at = NOW() WHERE id = $1", convID)
	s.db.QueryRow("SELECT username FROM users WHERE id = $1", senderID).Scan(&msg.SenderUsername)
	return &msg, nil
}

func (s *Store) GetConversationMessages(convID int64, limit int) ([]models.Message, error) {
	rows, err := s.db.Query(`
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.content, m.message_type, m.created_at
		FROM messages m
		LEFT JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = $1
		ORDER BY m.created_at DESC
		LIMIT $2
	`, convID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []models.Message
	for rows.Next() {
		var m models.Message
		var senderUsername sql.NullString
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &senderUsername, &m.Content, &m.MessageType, &m.CreatedAt); err != nil {
			continue
		}
		if senderUsername.Valid {
			m.SenderUsername = senderUsername.String
		}
		m.Attachments = s.getAttachmentsForMessage(m.ID)
		msgs = append(msgs, m)
	}

	// Reverse to get oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
