package usecase

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sort"
	"time"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"
	"arc-database/internal/shared/metrics"
	"arc-database/internal/shared/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Command names accepted by the façade.
const (
	CommandReadDocument        = "database.readDocument"
	CommandReadCollection      = "database.readCollection"
	CommandCreateDocument      = "database.createDocument"
	CommandUpdateDocument      = "database.updateDocument"
	CommandDeleteDocument      = "database.deleteDocument"
	CommandListCollections     = "database.listCollections"
	CommandSubscribeDocument   = "database.subscribeDocument"
	CommandSubscribeCollection = "database.subscribeCollection"
	CommandUnsubscribe         = "database.unsubscribe"
)

// PushTypeChange is the type of messages pushed for subscription events.
const PushTypeChange = "database.change"

// Options carries the optional command arguments.
type Options struct {
	Replace        bool         `json:"replace,omitempty"`
	SubscriptionID string       `json:"subscriptionId,omitempty"`
	Query          *model.Query `json:"query,omitempty"`
}

// Request is the argument object of every command.
type Request struct {
	Ref     string                 `json:"ref"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Options Options                `json:"options"`
}

// ErrorDescriptor is the client-facing form of a failure.
type ErrorDescriptor struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Response is the envelope returned for every command. Error is nil on success
// and is serialized as false.
type Response struct {
	Ref   string
	Error *ErrorDescriptor
	Data  interface{}
}

// OK reports whether the command succeeded.
func (r Response) OK() bool { return r.Error == nil }

func (r Response) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Ref   string      `json:"ref"`
		Error interface{} `json:"error"`
		Data  interface{} `json:"data"`
	}{Ref: r.Ref, Error: errorField(r.Error), Data: r.Data})
}

// ChangeMessage is pushed to the subscriber for every change event.
type ChangeMessage struct {
	Type           string        `json:"type"`
	SubscriptionID string        `json:"subscriptionId"`
	Ref            string        `json:"ref"`
	Event          ChangePayload `json:"event"`
}

// ChangePayload is the wire form of a ChangeEvent.
type ChangePayload struct {
	OldValue model.Document
	NewValue model.Document
	Error    *ErrorDescriptor
}

func (p ChangePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		OldValue model.Document `json:"oldValue"`
		NewValue model.Document `json:"newValue"`
		Error    interface{}    `json:"error"`
	}{OldValue: p.OldValue, NewValue: p.NewValue, Error: errorField(p.Error)})
}

func errorField(d *ErrorDescriptor) interface{} {
	if d == nil {
		return false
	}
	return d
}

// Pusher delivers subscription messages to one connected client.
type Pusher interface {
	// ID identifies the connection owning the subscriptions.
	ID() string
	Push(msg ChangeMessage) error
}

type commandHandler func(ctx context.Context, req Request, pusher Pusher) (interface{}, error)

// CommandFacade maps command names to database operations and wraps every
// outcome in a Response.
type CommandFacade struct {
	db       *DatabaseUsecase
	logger   logger.Logger
	handlers map[string]commandHandler
}

func NewCommandFacade(db *DatabaseUsecase, log logger.Logger) *CommandFacade {
	if log == nil {
		log = logger.NewNopLogger()
	}
	f := &CommandFacade{db: db, logger: log.WithComponent("command_facade")}
	f.handlers = map[string]commandHandler{
		CommandReadDocument:        f.readDocument,
		CommandReadCollection:      f.readCollection,
		CommandCreateDocument:      f.createDocument,
		CommandUpdateDocument:      f.updateDocument,
		CommandDeleteDocument:      f.deleteDocument,
		CommandListCollections:     f.listCollections,
		CommandSubscribeDocument:   f.subscribeDocument,
		CommandSubscribeCollection: f.subscribeCollection,
		CommandUnsubscribe:         f.unsubscribe,
	}
	return f
}

// Commands returns the supported command names in sorted order.
func (f *CommandFacade) Commands() []string {
	names := make([]string, 0, len(f.handlers))
	for name := range f.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSubscribeCommand reports whether command needs a push channel.
func IsSubscribeCommand(command string) bool {
	return command == CommandSubscribeDocument || command == CommandSubscribeCollection
}

// Handle executes command. It never panics; every failure is returned in the
// envelope. pusher may be nil for transports without a push channel.
func (f *CommandFacade) Handle(ctx context.Context, command string, req Request, pusher Pusher) (resp Response) {
	start := time.Now()
	ctx = utils.WithCommand(ctx, command)
	log := f.logger.WithContext(ctx)
	resp.Ref = req.Ref

	label := command
	if _, known := f.handlers[command]; !known {
		label = metrics.UnknownCommand
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("Command panicked", zap.String("ref", req.Ref), zap.Any("panic", p))
			resp = Response{Ref: req.Ref, Error: Describe(errors.NewInternalError("internal error"))}
		}
		status := "ok"
		if resp.Error != nil {
			status = resp.Error.Code
		}
		metrics.RecordCommand(label, status, time.Since(start))
	}()

	handler, ok := f.handlers[command]
	if !ok {
		resp.Error = Describe(errors.NewUnknownCommandError(command))
		return resp
	}

	data, err := handler(ctx, req, pusher)
	if err != nil {
		f.logFailure(log, req, err)
		resp.Error = Describe(err)
		return resp
	}
	resp.Data = data
	return resp
}

// Describe converts an error into its client-facing descriptor. Errors that
// are not AppErrors are reported as INTERNAL without their message.
func Describe(err error) *ErrorDescriptor {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		return &ErrorDescriptor{Code: string(errors.ErrorTypeInternal), Message: "internal error"}
	}
	desc := &ErrorDescriptor{Code: appErr.Code, Message: appErr.Message}
	if desc.Code == "" {
		desc.Code = string(appErr.Type)
	}
	if len(appErr.Details) > 0 {
		desc.Details = appErr.Details
	}
	return desc
}

func (f *CommandFacade) logFailure(log logger.Logger, req Request, err error) {
	switch {
	case errors.IsBackingStoreMissing(err), errors.KindOf(err) == errors.ErrorTypeInternal:
		log.Error("Command failed", zap.String("ref", req.Ref), zap.Error(err))
	case errors.IsBackendUnavailable(err):
		log.Warn("Command failed", zap.String("ref", req.Ref), zap.Error(err))
	default:
		log.Debug("Command rejected", zap.String("ref", req.Ref), zap.Error(err))
	}
}

func (f *CommandFacade) readDocument(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseDocumentPath(req.Ref)
	if err != nil {
		return nil, err
	}
	doc, found, err := f.db.ReadDocument(ctx, ref)
	if err != nil || !found {
		return nil, err
	}
	return doc, nil
}

func (f *CommandFacade) readCollection(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseCollectionPath(req.Ref)
	if err != nil {
		return nil, err
	}
	q, err := queryOf(req)
	if err != nil {
		return nil, err
	}
	if q != nil {
		ref = ref.WithQuery(*q)
	}
	return f.db.ReadCollection(ctx, ref)
}

func (f *CommandFacade) createDocument(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseCollectionPath(req.Ref)
	if err != nil {
		return nil, err
	}
	return f.db.CreateDocument(ctx, ref, fieldsOf(req))
}

func (f *CommandFacade) updateDocument(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseDocumentPath(req.Ref)
	if err != nil {
		return nil, err
	}
	doc, changed, err := f.db.UpdateDocument(ctx, ref, fieldsOf(req), repository.UpdateOptions{Replace: req.Options.Replace})
	if err != nil {
		return nil, err
	}
	if !changed {
		return false, nil
	}
	return doc, nil
}

func (f *CommandFacade) deleteDocument(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseDocumentPath(req.Ref)
	if err != nil {
		return nil, err
	}
	deleted, err := f.db.DeleteDocument(ctx, ref)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": deleted}, nil
}

func (f *CommandFacade) listCollections(ctx context.Context, req Request, _ Pusher) (interface{}, error) {
	ref, err := model.ParseDatabasePath(req.Ref)
	if err != nil {
		return nil, err
	}
	return f.db.ListCollections(ctx, ref)
}

func (f *CommandFacade) subscribeDocument(ctx context.Context, req Request, pusher Pusher) (interface{}, error) {
	if pusher == nil {
		return nil, errors.NewUnsupportedTransportError(CommandSubscribeDocument)
	}
	ref, err := model.ParseDocumentPath(req.Ref)
	if err != nil {
		return nil, err
	}
	return f.subscribe(ctx, req, ref, pusher)
}

func (f *CommandFacade) subscribeCollection(ctx context.Context, req Request, pusher Pusher) (interface{}, error) {
	if pusher == nil {
		return nil, errors.NewUnsupportedTransportError(CommandSubscribeCollection)
	}
	ref, err := model.ParseCollectionPath(req.Ref)
	if err != nil {
		return nil, err
	}
	return f.subscribe(ctx, req, ref, pusher)
}

func (f *CommandFacade) subscribe(ctx context.Context, req Request, ref model.Reference, pusher Pusher) (interface{}, error) {
	id := req.Options.SubscriptionID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = utils.WithSubscriptionID(ctx, id)
	log := f.logger.WithContext(ctx).WithFields(map[string]interface{}{"owner": pusher.ID()})

	deliver := func(ev model.ChangeEvent) {
		if err := pusher.Push(NewChangeMessage(id, ref, ev)); err != nil {
			log.Debug("Dropped change event for closed connection", zap.Error(err))
		}
	}
	if _, err := f.db.Subscribe(ctx, id, ref, pusher.ID(), deliver); err != nil {
		return nil, err
	}
	return map[string]interface{}{"subscriptionId": id}, nil
}

func (f *CommandFacade) unsubscribe(_ context.Context, req Request, _ Pusher) (interface{}, error) {
	id := req.Options.SubscriptionID
	if id == "" {
		return nil, errors.NewInvalidArgumentError("options.subscriptionId is required").WithDetail("field", "subscriptionId")
	}
	removed := f.db.Unsubscribe(id)
	return map[string]interface{}{"subscriptionId": id, "removed": removed}, nil
}

// NewChangeMessage builds the push message for one event of subscription id.
func NewChangeMessage(id string, ref model.Reference, ev model.ChangeEvent) ChangeMessage {
	payload := ChangePayload{OldValue: ev.OldValue, NewValue: ev.NewValue}
	if ev.Err != nil {
		payload.Error = Describe(ev.Err)
	}
	return ChangeMessage{Type: PushTypeChange, SubscriptionID: id, Ref: ref.Path(), Event: payload}
}

// queryOf returns the read query from options.query, or from a data object
// holding where, orderBy or limit.
func queryOf(req Request) (*model.Query, error) {
	if req.Options.Query != nil {
		return req.Options.Query, nil
	}
	if len(req.Data) == 0 {
		return nil, nil
	}
	_, hasWhere := req.Data["where"]
	_, hasOrder := req.Data["orderBy"]
	_, hasLimit := req.Data["limit"]
	if !hasWhere && !hasOrder && !hasLimit {
		return nil, nil
	}

	raw, err := json.Marshal(req.Data)
	if err != nil {
		return nil, errors.NewInvalidQueryError("query is not encodable").WithCause(err)
	}
	var q model.Query
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, errors.NewInvalidQueryError("malformed query: " + err.Error()).WithCause(err)
	}
	return &q, nil
}

func fieldsOf(req Request) map[string]interface{} {
	if req.Data == nil {
		return map[string]interface{}{}
	}
	return req.Data
}
