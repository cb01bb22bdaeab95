package discovery

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/hashicorp/mdns"

	"studiolink/internal/core/domain"
	"studiolink/pkg/utils"
)

// TXT record keys.
const (
	txtID         = "id"
	txtName       = "name"
	txtEncryption = "enc"
	txtTLS        = "tls"
	txtVersion    = "v"
)

// ServiceType maps a service name to its DNS-SD type.
func ServiceType(service string) string {
	return "_" + service + "._tcp"
}

func buildTXT(ad domain.Advertisement) []string {
	tls := "0"
	if ad.TLS {
		tls = "1"
	}
	return []string{
		txtID + "=" + ad.Identity.Token,
		txtName + "=" + ad.Identity.DisplayName,
		txtEncryption + "=" + string(ad.Encryption),
		txtTLS + "=" + tls,
		txtVersion + "=" + strconv.Itoa(domain.ProtocolVersion),
	}
}

func parseTXT(fields []string) map[string]string {
	out := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		out[strings.ToLower(utils.SanitizeString(k))] = utils.SanitizeString(v)
	}
	return out
}

// peerFromEntry turns one browse answer into a discovered peer.
func peerFromEntry(e *mdns.ServiceEntry, service string) (domain.DiscoveredPeer, error) {
	if e == nil {
		return domain.DiscoveredPeer{}, fmt.Errorf("empty entry")
	}
	if !strings.Contains(e.Name, "."+ServiceType(service)+".") {
		return domain.DiscoveredPeer{}, fmt.Errorf("entry %q is not a %s instance", e.Name, service)
	}

	meta := parseTXT(e.InfoFields)
	id := domain.PeerIdentity{DisplayName: meta[txtName], Token: meta[txtID]}
	if err := id.Validate(); err != nil {
		return domain.DiscoveredPeer{}, err
	}

	enc, err := domain.ParseEncryptionLevel(meta[txtEncryption])
	if err != nil {
		return domain.DiscoveredPeer{}, err
	}

	ip := e.AddrV4
	if ip == nil {
		ip = e.AddrV6
	}
	if ip == nil || e.Port <= 0 {
		return domain.DiscoveredPeer{}, fmt.Errorf("entry %q has no address", e.Name)
	}

	return domain.DiscoveredPeer{
		Identity:   id,
		Addr:       net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
		Encryption: enc,
		TLS:        meta[txtTLS] == "1",
		Metadata:   meta,
	}, nil
}
