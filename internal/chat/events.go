package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"mentormatrix/pkg/types"
)

// HandleMessage decodes one client frame and dispatches it. Failures are
// reported to the originating connection only.
func (p *Protocol) HandleMessage(ctx context.Context, connID string, data []byte) {
	var frame types.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		p.replyError(connID, "", ErrMalformed)
		return
	}

	if err := p.dispatch(ctx, connID, &frame); err != nil {
		p.logger.Debug("event failed", "conn_id", connID, "event", frame.Event, "error", err)
		p.replyError(connID, frame.Ack, err)
	}
}

func (p *Protocol) dispatch(ctx context.Context, connID string, frame *types.Frame) error {
	switch frame.Event {
	case types.EventAuthenticate:
		var payload types.AuthenticatePayload
		if err := decode(frame.Data, &payload); err != nil {
			return err
		}
		userID, err := p.tokens.Verify(payload.Token)
		if err != nil {
			return err
		}
		if err := p.Identify(ctx, connID, userID); err != nil {
			return err
		}
		p.ack(connID, frame.Ack, nil)
		return nil

	case types.EventJoinChat:
		chatID, err := roomID(frame.Data)
		if err != nil {
			return err
		}
		if err := p.JoinChat(ctx, connID, chatID); err != nil {
			return err
		}
		p.ack(connID, frame.Ack, nil)
		return nil

	case types.EventLeaveChat:
		chatID, err := roomID(frame.Data)
		if err != nil {
			return err
		}
		p.LeaveChat(connID, chatID)
		p.ack(connID, frame.Ack, nil)
		return nil

	case types.EventTyping, types.EventStopTyping:
		var payload types.TypingPayload
		if err := decode(frame.Data, &payload); err != nil {
			return err
		}
		return p.Typing(connID, frame.Event, payload)

	case types.EventSendMessage:
		identity, err := p.requireIdentity(connID)
		if err != nil {
			return err
		}
		var payload types.SendMessagePayload
		if err := decode(frame.Data, &payload); err != nil {
			return err
		}
		msg, err := p.SendMessage(ctx, SendRequest{
			ConnectionID: connID,
			SenderID:     identity.ID,
			ChatID:       payload.ChatID,
			Content:      payload.Content,
		})
		if err != nil {
			return err
		}
		p.ack(connID, frame.Ack, msg)
		return nil

	case types.EventMarkMessagesRead:
		identity, err := p.requireIdentity(connID)
		if err != nil {
			return err
		}
		chatID, err := roomID(frame.Data)
		if err != nil {
			return err
		}
		if _, err := p.MarkRead(ctx, chatID, identity.ID); err != nil {
			return err
		}
		p.ack(connID, frame.Ack, nil)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, frame.Event)
	}
}

// roomID accepts a bare string or an object carrying chatId.
func roomID(data json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var id string
		if err := json.Unmarshal(trimmed, &id); err != nil {
			return "", ErrMalformed
		}
		if id == "" {
			return "", fmt.Errorf("%w: chatId is required", types.ErrValidation)
		}
		return id, nil
	}
	var payload types.RoomPayload
	if err := decode(data, &payload); err != nil {
		return "", err
	}
	return payload.ChatID, nil
}

// decode unmarshals data into v and runs its validate tags.
func decode(data json.RawMessage, v interface{}) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return types.ValidateStruct(v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ErrMalformed
	}
	return types.ValidateStruct(v)
}

func (p *Protocol) ack(connID, ackID string, msg *types.Message) {
	if ackID == "" {
		return
	}
	_ = p.hub.Send(connID, types.EventAck, types.AckEvent{Ack: ackID, Success: true, Message: msg})
}

func (p *Protocol) replyError(connID, ackID string, err error) {
	event := types.ErrorEvent{Message: types.PublicMessage(err), Code: types.ErrorCode(err)}
	if sendErr := p.hub.Send(connID, types.EventError, event); sendErr != nil {
		p.logger.Debug("error reply dropped", "conn_id", connID, "error", sendErr)
	}
	if ackID != "" {
		_ = p.hub.Send(connID, types.EventAck, types.AckEvent{Ack: ackID, Success: false, Error: event.Message})
	}
}
