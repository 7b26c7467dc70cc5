// Package container runs analysis scripts inside a long-lived Docker
// container so generated code never executes on the host. The container is
// created on first use and kept alive across executions; each script gets
// its own directory under the container workspace.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	archive "github.com/moby/go-archive"

	"github.com/wsdl-king/DataAgent/codeexecutor"
	"github.com/wsdl-king/DataAgent/log"
)

const (
	defaultImage      = "python:3.11-slim"
	defaultWorkingDir = "/workspace"
	namePrefix        = "dataagent-analysis-"
)

// Executor runs scripts via docker exec in a dedicated container.
type Executor struct {
	host          string
	image         string
	containerName string
	client        *client.Client
	containerID   string
}

// Option configures the Executor.
type Option func(*Executor)

// WithHost sets the Docker daemon address; defaults to the environment.
func WithHost(host string) Option {
	return func(e *Executor) { e.host = host }
}

// WithImage sets the container image; it must provide python3 and bash.
func WithImage(img string) Option {
	return func(e *Executor) { e.image = img }
}

// WithContainerName names the container instead of autogenerating one.
func WithContainerName(name string) Option {
	return func(e *Executor) { e.containerName = name }
}

// New creates the Executor, pulling the image if needed and starting the
// sandbox container without network access.
func New(opts ...Option) (*Executor, error) {
	e := &Executor{image: defaultImage}
	for _, opt := range opts {
		opt(e)
	}
	if e.containerName == "" {
		e.containerName = namePrefix + uuid.New().String()
	}

	var err error
	if e.host != "" {
		e.client, err = client.NewClientWithOpts(client.WithHost(e.host), client.WithAPIVersionNegotiation())
	} else {
		e.client, err = client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	}
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if err := e.start(context.Background()); err != nil {
		return nil, err
	}
	return e, nil
}

// Execute implements codeexecutor.Executor.
func (e *Executor) Execute(ctx context.Context, spec codeexecutor.Execution) (codeexecutor.Result, error) {
	if e.containerID == "" {
		return codeexecutor.Result{}, fmt.Errorf("container not initialized")
	}
	execDir, err := e.copyScript(ctx, spec)
	if err != nil {
		return codeexecutor.Result{}, err
	}

	var cmd []string
	switch spec.Language {
	case codeexecutor.LanguageBash:
		cmd = []string{"bash", "-c", fmt.Sprintf("bash %s/script.sh < %s/input", execDir, execDir)}
	case codeexecutor.LanguagePython, "":
		cmd = []string{"bash", "-c", fmt.Sprintf("python3 %s/script.py < %s/input", execDir, execDir)}
	default:
		return codeexecutor.Result{}, fmt.Errorf("unsupported language: %s", spec.Language)
	}

	execResp, err := e.client.ContainerExecCreate(ctx, e.containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return codeexecutor.Result{}, fmt.Errorf("create exec: %w", err)
	}
	hijacked, err := e.client.ContainerExecAttach(ctx, execResp.ID, container.ExecStartOptions{})
	if err != nil {
		return codeexecutor.Result{}, fmt.Errorf("attach exec: %w", err)
	}
	defer hijacked.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, hijacked.Reader); err != nil {
		return codeexecutor.Result{}, fmt.Errorf("read exec output: %w", err)
	}
	inspect, err := e.client.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return codeexecutor.Result{}, fmt.Errorf("inspect exec: %w", err)
	}
	return codeexecutor.Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: inspect.ExitCode,
	}, nil
}

// copyScript stages the script and its stdin payload into the container
// workspace and returns the directory they landed in.
func (e *Executor) copyScript(ctx context.Context, spec codeexecutor.Execution) (string, error) {
	id := spec.ExecutionID
	if id == "" {
		id = uuid.New().String()
	}
	stage, err := os.MkdirTemp("", "dataagent_stage")
	if err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stage)

	name := "script.py"
	if spec.Language == codeexecutor.LanguageBash {
		name = "script.sh"
	}
	if err := os.WriteFile(filepath.Join(stage, name), []byte(spec.Script), 0o600); err != nil {
		return "", fmt.Errorf("stage script: %w", err)
	}
	if err := os.WriteFile(filepath.Join(stage, "input"), []byte(spec.Input), 0o600); err != nil {
		return "", fmt.Errorf("stage input: %w", err)
	}

	tar, err := archive.TarWithOptions(stage, &archive.TarOptions{})
	if err != nil {
		return "", fmt.Errorf("tar staging dir: %w", err)
	}
	defer tar.Close()

	execDir := defaultWorkingDir + "/" + id
	mkdir, err := e.client.ContainerExecCreate(ctx, e.containerID, container.ExecOptions{
		Cmd: []string{"mkdir", "-p", execDir},
	})
	if err != nil {
		return "", fmt.Errorf("create exec dir: %w", err)
	}
	if err := e.client.ContainerExecStart(ctx, mkdir.ID, container.ExecStartOptions{}); err != nil {
		return "", fmt.Errorf("create exec dir: %w", err)
	}
	if err := e.client.CopyToContainer(ctx, e.containerID, execDir, tar, container.CopyToContainerOptions{}); err != nil {
		return "", fmt.Errorf("copy script into container: %w", err)
	}
	return execDir, nil
}

func (e *Executor) start(ctx context.Context) error {
	if err := e.ensureImage(ctx); err != nil {
		return err
	}
	log.Infof("starting analysis container %s", e.containerName)
	resp, err := e.client.ContainerCreate(ctx,
		&container.Config{
			Image:      e.image,
			WorkingDir: defaultWorkingDir,
			// Keep the container alive between executions.
			Cmd:       []string{"tail", "-f", "/dev/null"},
			Tty:       true,
			OpenStdin: true,
		},
		&container.HostConfig{
			AutoRemove:  true,
			Privileged:  false,
			NetworkMode: "none",
		},
		nil, nil, e.containerName)
	if err != nil {
		return fmt.Errorf("create container: %w", err)
	}
	if err := e.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", err)
	}
	if err := e.waitReady(ctx, resp.ID, 60*time.Second); err != nil {
		return err
	}
	e.containerID = resp.ID
	log.Infof("analysis container %s running", resp.ID)
	return nil
}

func (e *Executor) ensureImage(ctx context.Context) error {
	images, err := e.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return fmt.Errorf("list images: %w", err)
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == e.image {
				return nil
			}
		}
	}
	log.Infof("image %s not found locally, pulling", e.image)
	reader, err := e.client.ImagePull(ctx, e.image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", e.image, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("read image pull output: %w", err)
	}
	return nil
}

func (e *Executor) waitReady(ctx context.Context, containerID string, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			return fmt.Errorf("timeout waiting for container %s", containerID)
		case <-ticker.C:
			info, err := e.client.ContainerInspect(ctx, containerID)
			if err != nil {
				return fmt.Errorf("inspect container: %w", err)
			}
			if info.State.Running {
				return nil
			}
			if strings.EqualFold(info.State.Status, "exited") {
				return fmt.Errorf("container exited with code %d", info.State.ExitCode)
			}
		}
	}
}

// Close stops and removes the container.
func (e *Executor) Close() error {
	if e.client == nil {
		return nil
	}
	if e.containerID != "" {
		ctx := context.Background()
		if err := e.client.ContainerStop(ctx, e.containerID, container.StopOptions{}); err != nil {
			log.Warnf("stop container %s: %v", e.containerID, err)
		}
		// AutoRemove handles removal; removing again races with the daemon.
	}
	return e.client.Close()
}
