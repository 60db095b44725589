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

package vector

import (
	"fmt"

	"github.com/kadirpekel/mnemo/pkg/config"
)

// New creates the vector store a configuration names.
func New(cfg *config.VectorConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("vector configuration is required")
	}

	switch cfg.Backend {
	case config.VectorBackendChromem:
		chromemCfg := config.ChromemConfig{}
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemStore(chromemCfg)

	case config.VectorBackendQdrant:
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant configuration is required")
		}
		return NewQdrantStore(*cfg.Qdrant)

	case config.VectorBackendPinecone:
		if cfg.Pinecone == nil {
			return nil, fmt.Errorf("pinecone configuration is required")
		}
		return NewPineconeStore(*cfg.Pinecone)

	default:
		return nil, fmt.Errorf("unknown vector backend: %q", cfg.Backend)
	}
}
