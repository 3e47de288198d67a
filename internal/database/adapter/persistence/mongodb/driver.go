package mongodb

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"arc-database/internal/database/domain/model"
	"arc-database/internal/database/domain/repository"
	"arc-database/internal/shared/errors"
	"arc-database/internal/shared/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// DriverName is the DRIVER_KIND value selecting this driver.
const DriverName = "mongodb"

// Options configures the connection.
type Options struct {
	URI            string
	ConnectTimeout time.Duration
}

// Driver maps each database to a MongoDB database and each collection to a
// MongoDB collection. Document ids are stored in _id. Change feeds require a
// replica set.
type Driver struct {
	opts   Options
	logger logger.Logger

	mu     sync.RWMutex
	client *mongo.Client
}

var _ repository.StorageDriver = (*Driver)(nil)

// New creates a driver; it does not connect until Open.
func New(opts Options, log logger.Logger) *Driver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	return &Driver{opts: opts, logger: log.WithComponent("mongodb_driver")}
}

func (d *Driver) Name() string { return DriverName }

// Open connects and verifies the connection with a ping.
func (d *Driver) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, d.opts.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(d.opts.URI).
		SetConnectTimeout(d.opts.ConnectTimeout).
		SetServerSelectionTimeout(d.opts.ConnectTimeout))
	if err != nil {
		return errors.NewBackendUnavailableError("failed to connect to MongoDB").WithCause(err).WithComponent(DriverName)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return errors.NewBackendUnavailableError("failed to ping MongoDB").WithCause(err).WithComponent(DriverName)
	}
	d.client = client
	d.logger.Info("MongoDB connection established")
	return nil
}

// Close disconnects. Open feeds observe the disconnect and terminate.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return classify(err, "disconnect")
	}
	d.logger.Info("MongoDB connection closed")
	return nil
}

func (d *Driver) Ping(ctx context.Context) error {
	client, err := d.getClient()
	if err != nil {
		return err
	}
	return classify(client.Ping(ctx, nil), "ping")
}

func (d *Driver) getClient() (*mongo.Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.client == nil {
		return nil, errors.NewBackendUnavailableError("mongodb driver is not open").WithComponent(DriverName)
	}
	return d.client, nil
}

func (d *Driver) database(ref model.DatabaseReference) (*mongo.Database, error) {
	client, err := d.getClient()
	if err != nil {
		return nil, err
	}
	return client.Database(ref.Name), nil
}

func (d *Driver) collection(ref model.CollectionReference) (*mongo.Collection, error) {
	db, err := d.database(ref.Database)
	if err != nil {
		return nil, err
	}
	return db.Collection(ref.Name), nil
}

// existingCollection fails with BACKING_STORE_MISSING when ref has no backing
// store. MongoDB creates collections on first write, which would skip the
// pre-image setting feeds rely on.
func (d *Driver) existingCollection(ctx context.Context, ref model.CollectionReference) (*mongo.Collection, error) {
	ok, err := d.HasCollection(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.NewBackingStoreMissingError(ref.Path()).WithComponent(DriverName)
	}
	return d.collection(ref)
}

// classify maps driver errors onto the error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	switch {
	case mongo.IsDuplicateKeyError(err):
		return errors.NewDuplicateIDError("").WithCause(err).WithComponent(DriverName)
	case mongo.IsNetworkError(err), mongo.IsTimeout(err),
		stderrors.Is(err, mongo.ErrClientDisconnected),
		stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewBackendUnavailableError("mongodb " + op + " failed").WithCause(err).WithComponent(DriverName)
	}
	return errors.NewInternalError("mongodb " + op + " failed").WithCause(err).WithComponent(DriverName)
}

func (d *Driver) logFailure(op string, ref model.Reference, err error) {
	d.logger.Error("MongoDB operation failed", zap.String("op", op), zap.String("ref", ref.Path()), zap.Error(err))
}
