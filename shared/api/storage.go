package api

// ResourcesStoragePool represents the capacity of a storage pool or array.
type ResourcesStoragePool struct {
	Space ResourcesStoragePoolSpace `json:"space" yaml:"space"`
}

// ResourcesStoragePoolSpace represents the space usage of a storage pool or array.
type ResourcesStoragePoolSpace struct {
	// Used space in bytes.
	Used uint64 `json:"used,omitempty" yaml:"used,omitempty"`

	// Total space in bytes.
	Total uint64 `json:"total" yaml:"total"`

	// Provisioned space in bytes. On thin provisioning arrays this may exceed Total.
	Provisioned uint64 `json:"provisioned,omitempty" yaml:"provisioned,omitempty"`
}
