package platform

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/smartrag/smartrag/pkg/apperr"
	"github.com/smartrag/smartrag/pkg/logger"
)

const (
	// TranscriptFileName is the attachment carrying the dialog JSON.
	TranscriptFileName = "chat_history.json"

	// DialogsFolderName is the well-known folder holding saved dialogs.
	DialogsFolderName = "Диалоги с ИИ-помощником"

	dialogsFolderDescription = "Папка содержит ИО, к которым прикреплены файлы с сохраненными диалогами с ИИ-помощником. " +
		"Чтобы продолжить диалог, укажите ссылку на него в поле \"Сохраненный контекст диалога\""

	defaultDialogTitle = "Диалог"
	titleMaxRunes      = 80
	timestampLayout    = "20060102150405"
)

// ChatMessage is one transcript turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SaveRequest carries everything needed to persist a dialog. When
// ChatHistoryID is set the existing object gains a new version,
// otherwise a fresh object is created next to the document named by
// DocumentID.
type SaveRequest struct {
	ChatHistoryID string
	DocumentID    string
	ChatTitle     string
	ChatSummary   string
	Messages      []ChatMessage
}

// TranscriptStore loads and saves dialog transcripts as versioned
// chat_history.json attachments.
type TranscriptStore struct {
	client *Client
	now    func() time.Time
}

func NewTranscriptStore(client *Client) *TranscriptStore {
	return &TranscriptStore{client: client, now: time.Now}
}

// Load fetches the transcript attached to the given object version.
// A blank id, a missing file, or an unparseable body all report
// exists=false rather than failing the request.
func (s *TranscriptStore) Load(ctx context.Context, chatHistoryID string) ([]ChatMessage, bool) {
	if chatHistoryID == "" {
		return nil, false
	}
	log := logger.GetLogger()

	files, err := s.client.GetObjectFiles(ctx, chatHistoryID)
	if err != nil {
		log.Warn("failed to list transcript files", "chat_history_id", chatHistoryID, "error", err)
		return nil, false
	}
	file, ok := findFile(files, TranscriptFileName)
	if !ok {
		log.Warn("transcript file not found", "chat_history_id", chatHistoryID, "file", TranscriptFileName)
		return nil, false
	}

	content, err := s.client.GetFileContent(ctx, file)
	if err != nil {
		log.Warn("failed to download transcript", "chat_history_id", chatHistoryID, "error", err)
		return nil, false
	}

	messages := parseTranscript(content)
	if len(messages) == 0 {
		log.Warn("transcript is empty or malformed", "chat_history_id", chatHistoryID)
		return nil, false
	}
	return messages, true
}

// Save persists the full transcript and returns the resulting object
// version descriptor.
func (s *TranscriptStore) Save(ctx context.Context, req SaveRequest) (*ObjectVersion, error) {
	if req.ChatHistoryID != "" {
		return s.saveUpdate(ctx, req)
	}
	return s.saveNew(ctx, req)
}

// saveNew creates a dialog object in the well-known folder next to the
// current document and uploads the transcript.
func (s *TranscriptStore) saveNew(ctx context.Context, req SaveRequest) (*ObjectVersion, error) {
	if req.DocumentID == "" {
		return nil, apperr.New(apperr.CodePlatformError, "сохранение диалога пропущено: irv_id не задан")
	}

	current, err := s.client.GetObjectVersion(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if current.ParentFolderID == "" || current.NamingAuthorityID == "" {
		return nil, apperr.Newf(apperr.CodePlatformError,
			"не удалось извлечь parent_id или nau_id из ИО %s", req.DocumentID)
	}

	folderID, err := s.ensureDialogsFolder(ctx, current.ParentFolderID)
	if err != nil {
		return nil, err
	}

	title := truncateRunes(req.ChatTitle, titleMaxRunes)
	if title == "" && len(req.Messages) > 0 {
		title = truncateRunes(req.Messages[0].Content, titleMaxRunes)
	}
	if title == "" {
		title = defaultDialogTitle
	}
	name := title + "#" + s.now().Format(timestampLayout)

	created, err := s.client.CreateObject(ctx, CreateObjectRequest{
		Name:              name,
		ParentFolderID:    folderID,
		NamingAuthorityID: current.NamingAuthorityID,
		Description:       req.ChatSummary,
		FileName:          TranscriptFileName,
	})
	if err != nil {
		return nil, err
	}

	if err := s.uploadTranscript(ctx, created.ID, req.Messages); err != nil {
		return nil, err
	}
	return created, nil
}

// saveUpdate spawns a new version of the existing dialog object with
// the extended transcript. The base name keeps everything before the
// last "#", the timestamp suffix is refreshed.
func (s *TranscriptStore) saveUpdate(ctx context.Context, req SaveRequest) (*ObjectVersion, error) {
	current, err := s.client.GetObjectVersion(ctx, req.ChatHistoryID)
	if err != nil {
		return nil, err
	}
	if current.ObjectID == "" || current.ParentFolderID == "" || current.NamingAuthorityID == "" {
		return nil, apperr.Newf(apperr.CodePlatformError,
			"не удалось извлечь io_id/parent_id/nau_id из ИО версии %s", req.ChatHistoryID)
	}

	baseName := current.Name
	if baseName == "" {
		baseName = current.Description
	}
	if baseName == "" {
		baseName = defaultDialogTitle
	}
	if idx := strings.LastIndexByte(baseName, '#'); idx >= 0 {
		baseName = baseName[:idx]
	}
	name := baseName + "#" + s.now().Format(timestampLayout)

	created, err := s.client.CreateObject(ctx, CreateObjectRequest{
		Name:              name,
		ParentFolderID:    current.ParentFolderID,
		NamingAuthorityID: current.NamingAuthorityID,
		Description:       req.ChatSummary,
		FileName:          TranscriptFileName,
		ObjectID:          current.ObjectID,
	})
	if err != nil {
		return nil, err
	}

	if err := s.uploadTranscript(ctx, created.ID, req.Messages); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *TranscriptStore) ensureDialogsFolder(ctx context.Context, parentID string) (string, error) {
	children, err := s.client.ListFolderChildren(ctx, parentID)
	if err != nil {
		return "", err
	}
	for _, child := range children {
		if child.Name == DialogsFolderName && child.ID != "" {
			return child.ID, nil
		}
	}
	return s.client.CreateFolder(ctx, DialogsFolderName, parentID, dialogsFolderDescription)
}

func (s *TranscriptStore) uploadTranscript(ctx context.Context, versionID string, messages []ChatMessage) error {
	files, err := s.client.GetObjectFiles(ctx, versionID)
	if err != nil {
		return err
	}
	file, ok := findFile(files, TranscriptFileName)
	if !ok {
		return apperr.Newf(apperr.CodePlatformError,
			"файл %s не найден у созданной версии ИО %s", TranscriptFileName, versionID)
	}

	body, err := json.MarshalIndent(map[string]interface{}{"messages": messages}, "", "  ")
	if err != nil {
		return apperr.Wrap(apperr.CodeInternalError, "failed to encode transcript", err)
	}
	return s.client.PutFileContent(ctx, file, body)
}

func findFile(files []FileDescriptor, name string) (FileDescriptor, bool) {
	for _, file := range files {
		if file.Name == name {
			return file, true
		}
	}
	return FileDescriptor{}, false
}

// parseTranscript accepts either {"messages": [...]} or a bare message
// list and keeps entries carrying both a role and a content field.
func parseTranscript(content []byte) []ChatMessage {
	var envelope struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := json.Unmarshal(content, &envelope); err == nil && len(envelope.Messages) > 0 {
		return filterMessages(envelope.Messages)
	}

	var bare []ChatMessage
	if err := json.Unmarshal(content, &bare); err == nil {
		return filterMessages(bare)
	}
	return nil
}

func filterMessages(messages []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role != "" {
			out = append(out, m)
		}
	}
	return out
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}
