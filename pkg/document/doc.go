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

// Package document defines the core data model shared across the Mnemo
// pipeline: documents, enriched metadata, scores, chunks, corpus views,
// search filters, and the service-wide error taxonomy.
//
// Documents are immutable once indexed. Re-ingesting changed content
// produces a new document; re-ingesting identical content is a no-op
// resolved by content hash.
package document
