package web

import (
	"encoding/json"
	"fmt"

	"github.com/deemkeen/stegodon/store"
	"github.com/deemkeen/stegodon/util"
)

// GetNodeinfoDiscovery renders the .well-known/nodeinfo discovery
// document: a single pointer to the 2.0 document this instance serves.
func GetNodeinfoDiscovery(conf *util.AppConfig) (string, error) {
	doc := map[string]interface{}{
		"links": []map[string]string{
			{
				"rel":  "http://nodeinfo.diaspora.software/ns/schema/2.0",
				"href": fmt.Sprintf("https://%s/nodeinfo/2.0", conf.Conf.SslDomain),
			},
		},
	}
	out, err := json.Marshal(doc)
	return string(out), err
}

// GetNodeinfo20 renders a NodeInfo 2.0 document with usage counts derived
// from the actor table. The protocol list is fixed to activitypub since
// that is the only one this core speaks.
func GetNodeinfo20(s *store.Store, conf *util.AppConfig) (string, error) {
	err, localUsers := s.CountLocalActors()
	if err != nil {
		return "", err
	}

	doc := map[string]interface{}{
		"version": "2.0",
		"software": map[string]string{
			"name":    util.Name,
			"version": util.GetVersion(),
		},
		"protocols": []string{"activitypub"},
		"services": map[string][]string{
			"inbound":  {},
			"outbound": {},
		},
		"openRegistrations": !conf.Conf.Closed,
		"usage": map[string]interface{}{
			"users": map[string]int{
				"total": localUsers,
			},
		},
		"metadata": map[string]interface{}{},
	}
	out, err := json.Marshal(doc)
	return string(out), err
}
