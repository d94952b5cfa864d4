package types

type Version struct {
	Version string `json:"version"`
}

var CurrentVersion = Version{
	Version: "1.2.0",
}
