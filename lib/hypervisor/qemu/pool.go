package qemu

import "sync"

// clientPool manages singleton QMP connections per socket path: QEMU's QMP
// socket only allows one connection at a time, so the pool reuses an
// existing connection rather than dialing a second one.
var clientPool = struct {
	sync.RWMutex
	clients map[string]*QEMU
}{clients: make(map[string]*QEMU)}

// GetOrCreate returns an existing QEMU client for socketPath, or creates one.
func GetOrCreate(socketPath string) (*QEMU, error) {
	clientPool.RLock()
	if client, ok := clientPool.clients[socketPath]; ok {
		clientPool.RUnlock()
		return client, nil
	}
	clientPool.RUnlock()

	clientPool.Lock()
	defer clientPool.Unlock()

	if client, ok := clientPool.clients[socketPath]; ok {
		return client, nil
	}
	client, err := newClient(socketPath)
	if err != nil {
		return nil, err
	}
	clientPool.clients[socketPath] = client
	return client, nil
}

// Remove closes and removes a client from the pool, called on errors to
// allow fresh reconnection on the next GetOrCreate.
func Remove(socketPath string) {
	clientPool.Lock()
	defer clientPool.Unlock()

	if client, ok := clientPool.clients[socketPath]; ok {
		delete(clientPool.clients, socketPath)
		go client.client.Close()
	}
}
