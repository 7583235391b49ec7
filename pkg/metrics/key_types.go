// Copyright (c) 2020 SAP SE or an SAP affiliate company. All rights reserved. This file is licensed under the Apache Software License, v. 2 except as noted otherwise in the LICENSE file
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

// ErrorReason values are attached as structured log fields (not metric
// label values, to keep cardinality bounded) wherever a plugin or queue
// component logs a failure, so operators can grep one consistent field
// across every component instead of each logging its own ad hoc string.
const (
	ErrorReasonPluginInit      = "plugin_init"
	ErrorReasonConfigDecode    = "config_decode"
	ErrorReasonSerialize       = "serialize"
	ErrorReasonSend            = "send"
	ErrorReasonQueueFull       = "queue_full"
	ErrorReasonCheckpointStuck = "checkpoint_stuck"
	ErrorReasonContainerFilter = "container_filter"
)
