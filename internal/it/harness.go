package it

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"lamportsim/internal/eventlog"
	"lamportsim/internal/message"
	"lamportsim/internal/node"
)

// Cluster represents a test cluster of lamportsim node processes.
type Cluster struct {
	nodes      []*Node
	logDir     string
	binaryPath string
	clients    *node.ClientManager
	mu         sync.Mutex
}

// Node represents a single node process in the test cluster.
type Node struct {
	ID      string
	Addr    string
	Port    int
	CSVPath string
	cmd     *exec.Cmd
	logFile *os.File
	exited  chan error
}

// NewCluster creates a new test cluster harness writing logs under logDir.
func NewCluster(binaryPath, logDir string) (*Cluster, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	return &Cluster{
		nodes:      make([]*Node, 0),
		logDir:     logDir,
		binaryPath: binaryPath,
		clients:    node.NewClientManager(),
	}, nil
}

func nodeAddr(port int) string {
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// StartNode starts a single node process. peers lists the ports of the
// other nodes; the node id is its listen address.
func (c *Cluster) StartNode(ctx context.Context, port int, peerPorts []int, rate float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	peers := make([]string, 0, len(peerPorts))
	for _, p := range peerPorts {
		peers = append(peers, fmt.Sprintf("%s=%s", nodeAddr(p), nodeAddr(p)))
	}

	addr := nodeAddr(port)
	logPath := filepath.Join(c.logDir, fmt.Sprintf("server-%d.log", port))
	csvPath := filepath.Join(c.logDir, fmt.Sprintf("server-%d.csv", port))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binaryPath,
		"node",
		"--listen", addr,
		"--peers", strings.Join(peers, ","),
		"--rate", fmt.Sprintf("%g", rate),
		"--log-file", csvPath,
		"--verbose",
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start node %s: %w", addr, err)
	}

	n := &Node{
		ID:      addr,
		Addr:    addr,
		Port:    port,
		CSVPath: csvPath,
		cmd:     cmd,
		logFile: logFile,
		exited:  make(chan error, 1),
	}
	go func() { n.exited <- cmd.Wait() }()

	c.nodes = append(c.nodes, n)

	if err := waitForReady(ctx, n, 10*time.Second); err != nil {
		n.kill()
		return fmt.Errorf("node %s failed to become ready: %w", addr, err)
	}
	return nil
}

// waitForReady polls the node's listen port until it accepts connections.
func waitForReady(ctx context.Context, n *Node, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-n.exited:
			return fmt.Errorf("process exited: %v", err)
		case <-ticker.C:
			if time.Now().After(deadline) {
				return fmt.Errorf("timeout waiting for node %s to be ready", n.ID)
			}
			conn, err := net.DialTimeout("tcp", n.Addr, 200*time.Millisecond)
			if err == nil {
				conn.Close()
				return nil
			}
		}
	}
}

// StartCluster starts size nodes on consecutive ports in a full mesh.
func (c *Cluster) StartCluster(ctx context.Context, basePort, size int, rates []float64) error {
	if _, err := os.Stat(c.binaryPath); os.IsNotExist(err) {
		return fmt.Errorf("binary not found at %s, build it first with 'go build -o lamportsim ./cmd/lamportsim'", c.binaryPath)
	}

	for i := 0; i < size; i++ {
		port := basePort + i
		peers := make([]int, 0, size-1)
		for j := 0; j < size; j++ {
			if j != i {
				peers = append(peers, basePort+j)
			}
		}
		if err := c.StartNode(ctx, port, peers, rates[i%len(rates)]); err != nil {
			c.Stop()
			return err
		}
	}
	return nil
}

// Deliver injects a message into a node's inbox over gRPC.
func (c *Cluster) Deliver(ctx context.Context, msg message.Message) error {
	return c.clients.Deliver(ctx, msg.RecipientID, msg)
}

// Nodes returns the started nodes.
func (c *Cluster) Nodes() []*Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Node(nil), c.nodes...)
}

// Interrupt asks every node to stop and waits for the processes to exit.
// It returns the first non-zero exit.
func (c *Cluster) Interrupt(timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var first error
	for _, n := range c.nodes {
		if err := n.interrupt(timeout); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Stop kills all nodes in the cluster.
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.kill()
	}
	c.nodes = nil
	c.clients.Close()
}

func (n *Node) interrupt(timeout time.Duration) error {
	if n.cmd.Process == nil {
		return nil
	}
	if err := n.cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("signal node %s: %w", n.ID, err)
	}
	select {
	case err := <-n.exited:
		n.exited <- err
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("node %s did not stop within %s", n.ID, timeout)
	}
}

func (n *Node) kill() {
	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
	}
	if n.logFile != nil {
		n.logFile.Close()
	}
}

// Records reads the node's CSV event log.
func (n *Node) Records() ([]eventlog.Record, error) {
	f, err := os.Open(n.CSVPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return eventlog.ReadCSV(f, n.ID)
}
