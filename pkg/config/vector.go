// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// VectorBackend identifies the vector store backend.
type VectorBackend string

const (
	// VectorBackendChromem is the embedded zero-config store.
	VectorBackendChromem VectorBackend = "chromem"

	// VectorBackendQdrant is an external Qdrant server over gRPC.
	VectorBackendQdrant VectorBackend = "qdrant"

	// VectorBackendPinecone is the hosted Pinecone service.
	VectorBackendPinecone VectorBackend = "pinecone"
)

// VectorConfig configures vector storage.
//
// Example:
//
//	vector:
//	  backend: chromem
//	  chromem:
//	    persist_path: ~/.mnemo/vectors
//	    compress: true
type VectorConfig struct {
	// Backend selects the store (chromem, qdrant, pinecone).
	Backend VectorBackend `yaml:"backend,omitempty"`

	// Collection is the base collection name. The canonical and full
	// views get "_canonical" and "_full" suffixes.
	Collection string `yaml:"collection,omitempty"`

	// Chromem configures the embedded store.
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant configures the Qdrant backend.
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`

	// Pinecone configures the Pinecone backend.
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// PersistPath for file persistence. Empty means in-memory only.
	PersistPath string `yaml:"persist_path,omitempty"`

	// Compress enables gzip compression of persisted vectors.
	Compress bool `yaml:"compress,omitempty"`
}

// QdrantConfig configures a Qdrant server connection.
type QdrantConfig struct {
	// Host of the Qdrant server.
	Host string `yaml:"host,omitempty"`

	// Port of the gRPC endpoint.
	Port int `yaml:"port,omitempty"`

	// APIKey for Qdrant Cloud.
	APIKey string `yaml:"api_key,omitempty"`

	// UseTLS enables TLS for the connection.
	UseTLS bool `yaml:"use_tls,omitempty"`
}

// PineconeConfig configures a Pinecone index connection.
type PineconeConfig struct {
	// APIKey for the Pinecone project.
	APIKey string `yaml:"api_key,omitempty"`

	// IndexHost is the index-specific host from the Pinecone console.
	IndexHost string `yaml:"index_host,omitempty"`

	// Namespace isolates this corpus within the index.
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies default values.
func (c *VectorConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = VectorBackendChromem
	}
	if c.Collection == "" {
		c.Collection = "documents"
	}
	switch c.Backend {
	case VectorBackendChromem:
		if c.Chromem == nil {
			c.Chromem = &ChromemConfig{}
		}
	case VectorBackendQdrant:
		if c.Qdrant == nil {
			c.Qdrant = &QdrantConfig{}
		}
		if c.Qdrant.Host == "" {
			c.Qdrant.Host = "localhost"
		}
		if c.Qdrant.Port == 0 {
			c.Qdrant.Port = 6334
		}
	case VectorBackendPinecone:
		if c.Pinecone == nil {
			c.Pinecone = &PineconeConfig{}
		}
	}
}

// Validate checks the vector configuration.
func (c *VectorConfig) Validate() error {
	switch c.Backend {
	case VectorBackendChromem, VectorBackendQdrant:
	case VectorBackendPinecone:
		if c.Pinecone == nil || c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone backend requires an api_key")
		}
		if c.Pinecone.IndexHost == "" {
			return fmt.Errorf("pinecone backend requires index_host")
		}
	default:
		return fmt.Errorf("invalid vector backend %q (valid: chromem, qdrant, pinecone)", c.Backend)
	}
	if c.Collection == "" {
		return fmt.Errorf("vector collection name is required")
	}
	return nil
}
