// Anchorage - audio node pool and session registry client
// SPDX-License-Identifier: Apache-2.0

package protocol

// Version describes a node's semantic version.
type Version struct {
	Semver     string  `json:"semver"`
	Major      int     `json:"major"`
	Minor      int     `json:"minor"`
	Patch      int     `json:"patch"`
	PreRelease *string `json:"preRelease,omitempty"`
	Build      *string `json:"build,omitempty"`
}

// Git describes the commit a node was built from.
type Git struct {
	Branch     string `json:"branch"`
	Commit     string `json:"commit"`
	CommitTime int64  `json:"commitTime"`
}

// Plugin names one plugin loaded on a node.
type Plugin struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Info is a node's build and capability report.
type Info struct {
	Version        Version  `json:"version"`
	BuildTime      int64    `json:"buildTime"`
	Git            Git      `json:"git"`
	JVM            string   `json:"jvm"`
	Lavaplayer     string   `json:"lavaplayer"`
	SourceManagers []string `json:"sourceManagers"`
	Filters        []string `json:"filters"`
	Plugins        []Plugin `json:"plugins"`
}

// FailingAddress is one address the node's IP rotator marked bad.
type FailingAddress struct {
	Address          string `json:"address"`
	FailingTimestamp int64  `json:"failingTimestamp"`
	FailingTime      string `json:"failingTime"`
}

// IPBlock describes the address block a route planner rotates over.
type IPBlock struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

// RoutePlannerDetails is the planner-class-specific status payload.
type RoutePlannerDetails struct {
	IPBlock             IPBlock          `json:"ipBlock"`
	FailingAddresses    []FailingAddress `json:"failingAddresses"`
	RotateIndex         string           `json:"rotateIndex,omitempty"`
	IPIndex             string           `json:"ipIndex,omitempty"`
	CurrentAddress      string           `json:"currentAddress,omitempty"`
	BlockIndex          string           `json:"blockIndex,omitempty"`
	CurrentAddressIndex string           `json:"currentAddressIndex,omitempty"`
}

// RoutePlanner is the node's IP rotation status; Class is nil when no
// planner is configured.
type RoutePlanner struct {
	Class   *string              `json:"class"`
	Details *RoutePlannerDetails `json:"details"`
}
