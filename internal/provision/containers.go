package provision

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"studysprint/devenv/internal/orchestrator"
)

// started describes a running container.
type started struct {
	host string
	port int
	id   string
	stop func(ctx context.Context) error
}

// ryukDisabledEnv turns off the testcontainers reaper, which otherwise
// removes every container when the creating process exits.
const ryukDisabledEnv = "TESTCONTAINERS_RYUK_DISABLED"

// Containers provisions services as named, reusable Docker containers via
// testcontainers-go. Handles carry the mapped host port.
type Containers struct {
	project string
	start   func(ctx context.Context, name string, spec orchestrator.ServiceSpec) (started, error)
	getenv  func(key string) string
}

// NewContainers returns the testcontainers driver. Container names are
// prefixed with project so reruns attach to the same containers.
func NewContainers(project string) *Containers {
	return &Containers{project: project, start: startContainer, getenv: os.Getenv}
}

// Preflight refuses to start services that the reaper would remove as soon
// as devenv exits. Services must outlive the bootstrap for the backend and
// later runs to use them.
func (c *Containers) Preflight(_ context.Context) error {
	v := c.getenv(ryukDisabledEnv)
	if disabled, err := strconv.ParseBool(v); err != nil || !disabled {
		return fmt.Errorf("containers driver requires %s=true so services outlive devenv (got %q)", ryukDisabledEnv, v)
	}
	return nil
}

// Provision starts (or reuses) one container per spec. Containers already
// started are terminated if a later one fails.
func (c *Containers) Provision(ctx context.Context, specs []orchestrator.ServiceSpec) ([]orchestrator.ServiceHandle, error) {
	handles := make([]orchestrator.ServiceHandle, 0, len(specs))

	for _, s := range specs {
		name := c.containerName(s)
		slog.InfoContext(ctx, "starting service", "driver", "containers", "service", s.Name, "container", name, "image", s.Image)

		st, err := c.start(ctx, name, s)
		if err != nil {
			for _, h := range handles {
				if stopErr := h.Stop(ctx); stopErr != nil {
					slog.WarnContext(ctx, "terminating container", "service", h.Name, "error", stopErr)
				}
			}
			return nil, fmt.Errorf("starting %s: %w", s.Name, err)
		}

		spec := s
		spec.Host = st.host
		spec.Port = st.port
		if spec.Kind == orchestrator.KindRedis {
			// The redis module starts without authentication.
			spec.Password = ""
		}
		handles = append(handles, orchestrator.NewServiceHandle(spec, st.id, st.stop))
		slog.InfoContext(ctx, "service started", "service", s.Name, "addr", fmt.Sprintf("%s:%d", st.host, st.port))
	}

	return handles, nil
}

func (c *Containers) containerName(s orchestrator.ServiceSpec) string {
	if c.project == "" {
		return s.Name
	}
	return c.project + "-" + s.Name
}

func startContainer(ctx context.Context, name string, spec orchestrator.ServiceSpec) (started, error) {
	reuse := testcontainers.CustomizeRequest(testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{Name: name},
		Reuse:            true,
	})
	// Readiness is polled by the orchestrator; Run returns once started.
	noWait := testcontainers.CustomizeRequestOption(func(req *testcontainers.GenericContainerRequest) error {
		req.WaitingFor = nil
		return nil
	})

	var (
		ctr  container
		port func(ctx context.Context) (int, error)
		err  error
	)
	switch spec.Kind {
	case orchestrator.KindPostgres:
		var pg *tcpostgres.PostgresContainer
		pg, err = tcpostgres.Run(ctx, spec.Image,
			tcpostgres.WithDatabase(spec.Database),
			tcpostgres.WithUsername(spec.User),
			tcpostgres.WithPassword(spec.Password),
			reuse,
			noWait,
		)
		if pg != nil {
			ctr = pg
		}
		port = func(ctx context.Context) (int, error) {
			p, err := pg.MappedPort(ctx, "5432/tcp")
			return p.Int(), err
		}
	case orchestrator.KindRedis:
		var rc *tcredis.RedisContainer
		rc, err = tcredis.Run(ctx, spec.Image, reuse, noWait)
		if rc != nil {
			ctr = rc
		}
		port = func(ctx context.Context) (int, error) {
			p, err := rc.MappedPort(ctx, "6379/tcp")
			return p.Int(), err
		}
	default:
		return started{}, fmt.Errorf("no container definition for service kind %q", spec.Kind)
	}

	if err != nil {
		if ctr != nil {
			terminate(ctx, name, ctr)
		}
		return started{}, err
	}
	return endpoint(ctx, name, ctr, port)
}

// container is the part of a testcontainers container read after it starts.
type container interface {
	Host(ctx context.Context) (string, error)
	GetContainerID() string
	Terminate(ctx context.Context, opts ...testcontainers.TerminateOption) error
}

// endpoint reads where a started container listens. The container is
// terminated when that fails, so no unreachable container is left behind.
func endpoint(ctx context.Context, name string, ctr container, port func(ctx context.Context) (int, error)) (started, error) {
	p, err := port(ctx)
	if err != nil {
		terminate(ctx, name, ctr)
		return started{}, fmt.Errorf("mapped port: %w", err)
	}
	host, err := ctr.Host(ctx)
	if err != nil {
		terminate(ctx, name, ctr)
		return started{}, fmt.Errorf("container host: %w", err)
	}

	return started{
		host: host,
		port: p,
		id:   ctr.GetContainerID(),
		stop: func(ctx context.Context) error {
			return ctr.Terminate(ctx)
		},
	}, nil
}

func terminate(ctx context.Context, name string, ctr container) {
	if err := ctr.Terminate(ctx); err != nil {
		slog.WarnContext(ctx, "terminating container", "container", name, "error", err)
	}
}
