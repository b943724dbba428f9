package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon. Each call carries the
// configured deadline so a wedged daemon cannot stall its callers.
type Client struct {
	conn    net.Conn
	client  *rpc.Client
	timeout time.Duration
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient, timeout: timeout}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.callWithDeadline(c.timeout, method, req, resp)
}

func (c *Client) callWithDeadline(timeout time.Duration, method string, req, resp any) error {
	if timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(timeout))
		defer c.conn.SetDeadline(time.Time{})
	}
	return c.client.Call(method, req, resp)
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Fieldsync.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the sync engine.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Fieldsync.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList returns queue items optionally filtered by statuses.
func (c *Client) QueueList(statuses []string) (*QueueListResponse, error) {
	var resp QueueListResponse
	if err := c.call("Fieldsync.QueueList", QueueListRequest{Statuses: statuses}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueGet returns details for a single queue item.
func (c *Client) QueueGet(id string) (*QueueGetResponse, error) {
	var resp QueueGetResponse
	if err := c.call("Fieldsync.QueueGet", QueueGetRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRemove deletes specific items.
func (c *Client) QueueRemove(ids []string) (*QueueRemoveResponse, error) {
	var resp QueueRemoveResponse
	if err := c.call("Fieldsync.QueueRemove", QueueRemoveRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueClearFailed removes failed items.
func (c *Client) QueueClearFailed() (*QueueClearFailedResponse, error) {
	var resp QueueClearFailedResponse
	if err := c.call("Fieldsync.QueueClearFailed", QueueClearFailedRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueRetry replays failed items.
func (c *Client) QueueRetry(ids []string) (*QueueRetryResponse, error) {
	var resp QueueRetryResponse
	if err := c.call("Fieldsync.QueueRetry", QueueRetryRequest{IDs: ids}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StorageUsage measures the on-disk queue footprint.
func (c *Client) StorageUsage() (*StorageUsageResponse, error) {
	var resp StorageUsageResponse
	if err := c.call("Fieldsync.StorageUsage", StorageUsageRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sync runs an immediate sync pass. Manual syncs can run long, so the
// per-call deadline is widened.
func (c *Client) Sync(id string) (*SyncResponse, error) {
	var resp SyncResponse
	if err := c.callWithDeadline(0, "Fieldsync.Sync", SyncRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Capture stores a mutation directly into the queue.
func (c *Client) Capture(req CaptureRequest) (*CaptureResponse, error) {
	var resp CaptureResponse
	if err := c.call("Fieldsync.Capture", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
