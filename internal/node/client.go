package node

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"lamportsim/internal/message"
)

// ClientManager caches one gRPC connection per peer address.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientManager creates a new client manager.
func NewClientManager() *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Conn returns the connection for addr, creating it on first use.
// Connections are established lazily by gRPC.
func (cm *ClientManager) Conn(addr string) (*grpc.ClientConn, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return conn, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return conn, nil
}

// Deliver sends msg to the inbox listening on addr.
func (cm *ClientManager) Deliver(ctx context.Context, addr string, msg message.Message) error {
	conn, err := cm.Conn(addr)
	if err != nil {
		return err
	}
	req := &wrapperspb.BytesValue{Value: message.Marshal(msg)}
	return conn.Invoke(ctx, deliverMethod, req, &emptypb.Empty{})
}

// Close closes all client connections.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var errs []error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)
	return errors.Join(errs...)
}

// GRPCSender sends messages to peers over gRPC, resolving recipient ids
// through an address book.
type GRPCSender struct {
	clients *ClientManager
	book    map[string]string
}

// NewGRPCSender creates a sender. book maps node id to inbox address.
func NewGRPCSender(clients *ClientManager, book map[string]string) *GRPCSender {
	copied := make(map[string]string, len(book))
	for id, addr := range book {
		copied[id] = addr
	}
	return &GRPCSender{clients: clients, book: copied}
}

// Send implements Sender.
func (s *GRPCSender) Send(ctx context.Context, msg message.Message) error {
	addr, ok := s.book[msg.RecipientID]
	if !ok {
		return fmt.Errorf("%w: no address for %s", ErrTransport, msg.RecipientID)
	}
	if err := s.clients.Deliver(ctx, addr, msg); err != nil {
		return fmt.Errorf("%w: deliver to %s: %w", ErrTransport, msg.RecipientID, err)
	}
	return nil
}
