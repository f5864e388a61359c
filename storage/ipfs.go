package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/zonebnation/ebizimba-content/common"
	"github.com/zonebnation/ebizimba-content/interfaces"
)

// IPFSBackend fetches and publishes content through an IPFS node.
// Locations have the form ipfs://host:port/<cid>[/sub/path]; with
// ?gateway=true the node's HTTP gateway is used instead of the API.
type IPFSBackend struct {
	shell       *shell.Shell
	gateway     *HTTPGateway
	host        string
	port        string
	useGateway  bool
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates a new IPFS backend connected to the specified host and port.
func NewIPFSBackend(host, port string, useGateway bool, timeout time.Duration, log *slog.Logger) (*IPFSBackend, error) {
	if host == "" {
		return nil, fmt.Errorf("%w: empty IPFS host", interfaces.ErrInvalidLocationURI)
	}
	apiURL := fmt.Sprintf("%s:%s", host, port)

	uri := fmt.Sprintf("ipfs://%s", apiURL)
	if useGateway {
		uri += "/?gateway=true"
	}

	sh := shell.NewShell(apiURL)
	sh.SetTimeout(timeout)

	log = common.OrDefault(log)
	return &IPFSBackend{
		shell:       sh,
		gateway:     NewHTTPGateway("ipfs-gateway-"+host, &http.Client{Timeout: timeout}, log),
		host:        host,
		port:        port,
		useGateway:  useGateway,
		log:         log,
		locationURI: uri,
	}, nil
}

// Fetch retrieves the object named by an ipfs:// location.
func (b *IPFSBackend) Fetch(ctx context.Context, location string, id interfaces.ContentID) ([]byte, error) {
	start := time.Now()

	ipfsPath, err := ipfsPathFromLocation(location)
	if err != nil {
		return nil, err
	}

	if b.useGateway {
		return b.gateway.Fetch(ctx, fmt.Sprintf("http://%s:%s%s", b.host, b.port, ipfsPath), id)
	}

	resp, err := b.shell.Request("cat", ipfsPath).Send(ctx)
	if err != nil {
		b.log.Debug("Failed to fetch data from IPFS",
			slog.String("path", ipfsPath),
			slog.String("content_id", id.Short()),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: ipfs cat %s: %v", interfaces.ErrTransientFetch, ipfsPath, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Output, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", interfaces.ErrTransientFetch, ipfsPath, err)
	}
	if len(data) > maxResponseSize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", interfaces.ErrTransientFetch, ipfsPath, maxResponseSize)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("path", ipfsPath),
		slog.String("content_id", id.Short()),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Publish adds data to IPFS. The returned location names the IPFS CID
// directly, so it carries no id placeholder.
func (b *IPFSBackend) Publish(ctx context.Context, data []byte) (interfaces.ContentID, []string, error) {
	id := interfaces.ComputeID(data)

	if !b.shell.IsUp() {
		return id, nil, fmt.Errorf("%s: %w", b.Name(), interfaces.ErrStorageUnavailable)
	}

	cid, err := b.shell.Add(bytes.NewReader(data))
	if err != nil {
		return id, nil, fmt.Errorf("failed to add data to IPFS: %w", err)
	}

	b.log.Debug("Stored content in IPFS",
		slog.String("ipfsCID", cid),
		slog.String("content_id", id.Short()))

	location := fmt.Sprintf("ipfs://%s:%s/%s", b.host, b.port, cid)
	if b.useGateway {
		location += "?gateway=true"
	}
	return id, []string{location}, nil
}

// Name returns a unique identifier for this backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

// ipfsPathFromLocation turns ipfs://host:port/<cid>/rest into /ipfs/<cid>/rest.
func ipfsPathFromLocation(location string) (string, error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}
	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimPrefix(p, "ipfs/")
	if p == "" {
		return "", fmt.Errorf("%w: no CID in %s", interfaces.ErrInvalidLocationURI, location)
	}
	return "/ipfs/" + p, nil
}
