package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"

	"pixelchat/internal/domain"
	"pixelchat/internal/usecase"
)

// Session is the chat surface the gateway drives. *usecase.ChatSession
// satisfies it.
type Session interface {
	SetObserver(fn func(domain.Message))
	Messages() []domain.Message
	Processing() bool
	RetryAttempt() int
	PoolSnapshot() usecase.PoolSnapshot
	Mode() domain.GenerationMode
	EditState() usecase.EditState
	SwitchMode(mode domain.GenerationMode) error
	Send(ctx context.Context, text string) (domain.GenerationOutcome, error)
	StartEdit(id string) (usecase.EditState, error)
	CancelEdit() bool
	EditMessage(ctx context.Context, id, text string) (domain.GenerationOutcome, error)
	AnalyzeImage(ctx context.Context, file *domain.ImageFile, question string) (string, error)
	Ask(ctx context.Context, text string, onChunk func(string)) (string, error)
	RegisterUpload(ctx context.Context, files []domain.ImageFile, designation domain.UploadDesignation) ([]usecase.UploadRejection, error)
	ClearTransient() error
	ClearPersistent() error
	Reset() error
}

// StateView is the chat.state result.
type StateView struct {
	Mode         domain.GenerationMode `json:"mode"`
	Processing   bool                  `json:"processing"`
	RetryAttempt int                   `json:"retry_attempt"`
	Pool         usecase.PoolSnapshot  `json:"pool"`
	Edit         usecase.EditState     `json:"edit"`
}

type filePayload struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"`
}

func (p filePayload) toImageFile() (domain.ImageFile, error) {
	data, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return domain.ImageFile{}, domain.NewDomainError("decode upload", domain.ErrRPCInvalidParams, p.Name)
	}
	return domain.ImageFile{
		Name:        p.Name,
		ContentType: p.ContentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

type uploadRejectionView struct {
	Name  string `json:"name"`
	Error string `json:"error"`
	Code  string `json:"code"`
}

// RegisterChatHandlers wires every chat.* RPC method to session and forwards
// appended messages to all connected clients.
func RegisterChatHandlers(s *Server, session Session, logger *slog.Logger) {
	session.SetObserver(func(msg domain.Message) {
		s.Broadcast(EventMessageAppended, msg)
	})

	s.RegisterHandler("chat.send", func(ctx context.Context, call *Call) (any, error) {
		var req struct {
			Text string `json:"text"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		outcome, err := session.Send(ctx, req.Text)
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})

	s.RegisterHandler("chat.ask", func(ctx context.Context, call *Call) (any, error) {
		var req struct {
			Text string `json:"text"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		reply, err := session.Ask(ctx, req.Text, func(chunk string) {
			call.Notify(EventTextChunk, map[string]string{"text": chunk})
		})
		if err != nil {
			return nil, err
		}
		return map[string]string{"reply": reply}, nil
	})

	s.RegisterHandler("chat.messages", func(_ context.Context, _ *Call) (any, error) {
		msgs := session.Messages()
		if msgs == nil {
			msgs = []domain.Message{}
		}
		return msgs, nil
	})

	s.RegisterHandler("chat.state", func(_ context.Context, _ *Call) (any, error) {
		return StateView{
			Mode:         session.Mode(),
			Processing:   session.Processing(),
			RetryAttempt: session.RetryAttempt(),
			Pool:         session.PoolSnapshot(),
			Edit:         session.EditState(),
		}, nil
	})

	s.RegisterHandler("chat.mode", func(_ context.Context, call *Call) (any, error) {
		var req struct {
			Mode string `json:"mode"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		mode, err := domain.ParseGenerationMode(req.Mode)
		if err != nil {
			return nil, domain.NewDomainError(call.Method, domain.ErrRPCInvalidParams, err.Error())
		}
		if err := session.SwitchMode(mode); err != nil {
			return nil, err
		}
		return map[string]string{"mode": string(mode)}, nil
	})

	s.RegisterHandler("chat.upload", func(ctx context.Context, call *Call) (any, error) {
		var req struct {
			Designation string        `json:"designation"`
			Files       []filePayload `json:"files"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		files := make([]domain.ImageFile, 0, len(req.Files))
		for _, fp := range req.Files {
			f, err := fp.toImageFile()
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
		rejected, err := session.RegisterUpload(ctx, files, domain.UploadDesignation(req.Designation))
		if err != nil {
			return nil, err
		}
		views := make([]uploadRejectionView, 0, len(rejected))
		for _, r := range rejected {
			views = append(views, uploadRejectionView{
				Name:  r.Name,
				Error: r.Err.Error(),
				Code:  string(domain.ErrorCodeOf(r.Err)),
			})
		}
		logger.Debug("gateway upload", "files", len(files), "rejected", len(views))
		return map[string]any{
			"accepted": len(files) - len(views),
			"rejected": views,
			"pool":     session.PoolSnapshot(),
		}, nil
	})

	s.RegisterHandler("chat.analyze", func(ctx context.Context, call *Call) (any, error) {
		var req struct {
			Question string       `json:"question"`
			File     *filePayload `json:"file"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		var file *domain.ImageFile
		if req.File != nil {
			f, err := req.File.toImageFile()
			if err != nil {
				return nil, err
			}
			file = &f
		}
		answer, err := session.AnalyzeImage(ctx, file, req.Question)
		if err != nil {
			return nil, err
		}
		return map[string]string{"answer": answer}, nil
	})

	s.RegisterHandler("chat.edit.start", func(_ context.Context, call *Call) (any, error) {
		var req struct {
			MessageID string `json:"message_id"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		return session.StartEdit(req.MessageID)
	})

	s.RegisterHandler("chat.edit.cancel", func(_ context.Context, _ *Call) (any, error) {
		return map[string]bool{"cancelled": session.CancelEdit()}, nil
	})

	s.RegisterHandler("chat.edit", func(ctx context.Context, call *Call) (any, error) {
		var req struct {
			MessageID string `json:"message_id"`
			Text      string `json:"text"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		outcome, err := session.EditMessage(ctx, req.MessageID, req.Text)
		if err != nil {
			return nil, err
		}
		return outcome, nil
	})

	s.RegisterHandler("chat.clear", func(_ context.Context, call *Call) (any, error) {
		var req struct {
			Scope string `json:"scope"`
		}
		if err := decodePayload(call, &req); err != nil {
			return nil, err
		}
		var err error
		switch req.Scope {
		case "transient":
			err = session.ClearTransient()
		case "persistent":
			err = session.ClearPersistent()
		case "all":
			if err = session.ClearTransient(); err == nil {
				err = session.ClearPersistent()
			}
		}
		if err != nil {
			return nil, err
		}
		return session.PoolSnapshot(), nil
	})

	s.RegisterHandler("chat.reset", func(_ context.Context, _ *Call) (any, error) {
		if err := session.Reset(); err != nil {
			return nil, err
		}
		return map[string]bool{"reset": true}, nil
	})
}

func decodePayload(call *Call, v any) error {
	if len(call.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(call.Payload, v); err != nil {
		return domain.NewDomainError(call.Method, domain.ErrRPCInvalidParams, fmt.Sprintf("decode: %v", err))
	}
	return nil
}
