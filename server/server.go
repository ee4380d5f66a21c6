package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const shutdownTimeout = 5 * time.Second

// Server represents the image service
type Server struct {
	config *Config
	log    logrus.FieldLogger

	blobs    BlobStore
	metadata ImageStore
	cache    Cache
	router   *Router

	grpcSrv *grpc.Server
	health  *health.Server
}

// NewServer creates the stores selected by config and the router serving
// them
func NewServer(ctx context.Context, config *Config, log logrus.FieldLogger) (*Server, error) {
	sess, err := newSession(config.AWS)
	if err != nil {
		return nil, err
	}

	blobs, err := NewS3BlobStore(sess, config.AWS.S3)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 blob store: %w", err)
	}

	var metadata ImageStore
	switch config.Metadata.Backend {
	case BackendDynamoDB:
		metadata = NewDynamoDBImageStore(sess, config.AWS.DynamoDB.ImagesTable, log)
	case BackendDocumentDB:
		metadata, err = NewDocumentDBImageStore(ctx, config.AWS.DocumentDB, log)
	case BackendBadger:
		metadata, err = NewBadgerImageStore(config.Metadata.BadgerPath)
	default:
		err = fmt.Errorf("unknown metadata backend: %s", config.Metadata.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s image store: %w", config.Metadata.Backend, err)
	}
	log.WithField("backend", config.Metadata.Backend).Info("Image store ready")

	// Create Redis cache or use NoOpCache if Redis is not available
	var cache Cache = &NoOpCache{}
	if config.AWS.ElastiCache.Address != "" {
		redisCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		redisCache, err := NewRedisCache(redisCtx, config.AWS.ElastiCache.Address, config.AWS.ElastiCache.TTL)
		if err != nil {
			log.WithError(err).Warn("Failed to create Redis cache, continuing without cache")
		} else {
			cache = redisCache
			log.WithField("address", config.AWS.ElastiCache.Address).Info("Connected to Redis cache")
		}
	}

	s := newServer(config, log, blobs, metadata, cache)

	if config.AWS.AutoProvision {
		if err := s.Setup(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	return s, nil
}

func newServer(config *Config, log logrus.FieldLogger, blobs BlobStore, metadata ImageStore, cache Cache) *Server {
	router := NewRouter(log)
	NewHandlers(blobs, newCachedImageStore(metadata, cache, log), log).Register(router)

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	return &Server{
		config:   config,
		log:      log,
		blobs:    blobs,
		metadata: metadata,
		cache:    cache,
		router:   router,
		grpcSrv:  grpcSrv,
		health:   healthSrv,
	}
}

// Router returns the router serving the image routes
func (s *Server) Router() *Router {
	return s.router
}

// Setup creates the bucket and the table or collection used by the
// configured stores
func (s *Server) Setup(ctx context.Context) error {
	if p, ok := s.blobs.(BucketProvisioner); ok {
		s.log.Info("Provisioning blob bucket")
		if err := p.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to provision bucket: %w", err)
		}
	}
	if p, ok := s.metadata.(SchemaProvisioner); ok {
		s.log.Info("Provisioning image store schema")
		if err := p.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to provision image store: %w", err)
		}
	}
	return nil
}

// Start serves HTTP and the gRPC health service until ctx is done or one
// of the listeners fails
func (s *Server) Start(ctx context.Context) error {
	grpcAddr := fmt.Sprintf(":%d", s.config.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.HTTPPort),
		Handler:      NewHTTPHandler(s.router, s.log),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("addr", grpcAddr).Info("gRPC server listening")
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := s.grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.log.WithField("addr", httpSrv.Addr).Info("HTTP server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("Shutting down")
		s.health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		s.grpcSrv.GracefulStop()
		return err
	})

	return g.Wait()
}

// Close releases the store and cache connections
func (s *Server) Close() {
	for _, c := range []interface{}{s.metadata, s.cache} {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				s.log.WithError(err).Warn("Failed to close resource")
			}
		}
	}
}
