package audit

import (
	"github.com/mssola/user_agent"
)

// ClientInfo summarizes a User-Agent header for audit snapshots.
type ClientInfo struct {
	Browser string `json:"browser,omitempty"`
	Version string `json:"browser_version,omitempty"`
	OS      string `json:"os,omitempty"`
	Mobile  bool   `json:"mobile"`
	Bot     bool   `json:"bot"`
}

func DescribeClient(userAgent string) ClientInfo {
	if userAgent == "" {
		return ClientInfo{}
	}
	ua := user_agent.New(userAgent)
	name, version := ua.Browser()
	return ClientInfo{
		Browser: name,
		Version: version,
		OS:      ua.OS(),
		Mobile:  ua.Mobile(),
		Bot:     ua.Bot(),
	}
}
