// Copyright 2025 LLM Firewall Project
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

// Package firewallpb contains the Go wire types and service bindings for the
// analyzer's FirewallService. The definitions mirror proto/firewall.proto;
// keep the two in sync when the contract changes.
package firewallpb

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/protoadapt"
)

// grpc's proto codec accepts these legacy-form messages through the
// protoadapt bridge; the assertions pin the interface it requires.
var (
	_ protoadapt.MessageV1 = (*CheckContentRequest)(nil)
	_ protoadapt.MessageV1 = (*CheckContentResponse)(nil)
	_ protoadapt.MessageV1 = (*DetectedIssue)(nil)
	_ protoadapt.MessageV1 = (*HealthCheckRequest)(nil)
	_ protoadapt.MessageV1 = (*HealthCheckResponse)(nil)
)

// IssueKind classifies a single detection. API_KEY through PASSWORD are PII
// kinds; PROMPT_INJECTION through ENCODED_PAYLOAD are injection kinds.
type IssueKind int32

const (
	IssueKind_UNKNOWN                 IssueKind = 0
	IssueKind_API_KEY                 IssueKind = 1
	IssueKind_EMAIL                   IssueKind = 2
	IssueKind_PHONE                   IssueKind = 3
	IssueKind_SSN                     IssueKind = 4
	IssueKind_CREDIT_CARD             IssueKind = 5
	IssueKind_IP_ADDRESS              IssueKind = 6
	IssueKind_PERSON                  IssueKind = 7
	IssueKind_LOCATION                IssueKind = 8
	IssueKind_URL                     IssueKind = 9
	IssueKind_PASSWORD                IssueKind = 10
	IssueKind_PROMPT_INJECTION        IssueKind = 11
	IssueKind_JAILBREAK               IssueKind = 12
	IssueKind_EXCESSIVE_SPECIAL_CHARS IssueKind = 13
	IssueKind_ENCODED_PAYLOAD         IssueKind = 14
)

var IssueKind_name = map[int32]string{
	0:  "UNKNOWN",
	1:  "API_KEY",
	2:  "EMAIL",
	3:  "PHONE",
	4:  "SSN",
	5:  "CREDIT_CARD",
	6:  "IP_ADDRESS",
	7:  "PERSON",
	8:  "LOCATION",
	9:  "URL",
	10: "PASSWORD",
	11: "PROMPT_INJECTION",
	12: "JAILBREAK",
	13: "EXCESSIVE_SPECIAL_CHARS",
	14: "ENCODED_PAYLOAD",
}

var IssueKind_value = map[string]int32{
	"UNKNOWN":                 0,
	"API_KEY":                 1,
	"EMAIL":                   2,
	"PHONE":                   3,
	"SSN":                     4,
	"CREDIT_CARD":             5,
	"IP_ADDRESS":              6,
	"PERSON":                  7,
	"LOCATION":                8,
	"URL":                     9,
	"PASSWORD":                10,
	"PROMPT_INJECTION":        11,
	"JAILBREAK":               12,
	"EXCESSIVE_SPECIAL_CHARS": 13,
	"ENCODED_PAYLOAD":         14,
}

func (x IssueKind) String() string {
	if s, ok := IssueKind_name[int32(x)]; ok {
		return s
	}
	return strconv.Itoa(int(x))
}

type HealthCheckResponse_ServingStatus int32

const (
	HealthCheckResponse_UNKNOWN         HealthCheckResponse_ServingStatus = 0
	HealthCheckResponse_SERVING         HealthCheckResponse_ServingStatus = 1
	HealthCheckResponse_NOT_SERVING     HealthCheckResponse_ServingStatus = 2
	HealthCheckResponse_SERVICE_UNKNOWN HealthCheckResponse_ServingStatus = 3
)

var HealthCheckResponse_ServingStatus_name = map[int32]string{
	0: "UNKNOWN",
	1: "SERVING",
	2: "NOT_SERVING",
	3: "SERVICE_UNKNOWN",
}

var HealthCheckResponse_ServingStatus_value = map[string]int32{
	"UNKNOWN":         0,
	"SERVING":         1,
	"NOT_SERVING":     2,
	"SERVICE_UNKNOWN": 3,
}

func (x HealthCheckResponse_ServingStatus) String() string {
	if s, ok := HealthCheckResponse_ServingStatus_name[int32(x)]; ok {
		return s
	}
	return strconv.Itoa(int(x))
}

type CheckContentRequest struct {
	Content   string            `protobuf:"bytes,1,opt,name=content,proto3" json:"content,omitempty"`
	RequestId string            `protobuf:"bytes,2,opt,name=request_id,json=requestId,proto3" json:"request_id,omitempty"`
	Metadata  map[string]string `protobuf:"bytes,3,rep,name=metadata,proto3" json:"metadata,omitempty" protobuf_key:"bytes,1,opt,name=key,proto3" protobuf_val:"bytes,2,opt,name=value,proto3"`
}

func (m *CheckContentRequest) Reset()         { *m = CheckContentRequest{} }
func (m *CheckContentRequest) String() string { return fmt.Sprintf("&%v", *m) }
func (*CheckContentRequest) ProtoMessage()    {}

func (m *CheckContentRequest) GetContent() string {
	if m != nil {
		return m.Content
	}
	return ""
}

func (m *CheckContentRequest) GetRequestId() string {
	if m != nil {
		return m.RequestId
	}
	return ""
}

func (m *CheckContentRequest) GetMetadata() map[string]string {
	if m != nil {
		return m.Metadata
	}
	return nil
}

type CheckContentResponse struct {
	IsSafe          bool             `protobuf:"varint,1,opt,name=is_safe,json=isSafe,proto3" json:"is_safe,omitempty"`
	RedactedText    string           `protobuf:"bytes,2,opt,name=redacted_text,json=redactedText,proto3" json:"redacted_text,omitempty"`
	DetectedIssues  []*DetectedIssue `protobuf:"bytes,3,rep,name=detected_issues,json=detectedIssues,proto3" json:"detected_issues,omitempty"`
	ConfidenceScore float32          `protobuf:"fixed32,4,opt,name=confidence_score,json=confidenceScore,proto3" json:"confidence_score,omitempty"`
	RequestId       string           `protobuf:"bytes,5,opt,name=request_id,json=requestId,proto3" json:"request_id,omitempty"`
}

func (m *CheckContentResponse) Reset()         { *m = CheckContentResponse{} }
func (m *CheckContentResponse) String() string { return fmt.Sprintf("&%v", *m) }
func (*CheckContentResponse) ProtoMessage()    {}

func (m *CheckContentResponse) GetIsSafe() bool {
	if m != nil {
		return m.IsSafe
	}
	return false
}

func (m *CheckContentResponse) GetRedactedText() string {
	if m != nil {
		return m.RedactedText
	}
	return ""
}

func (m *CheckContentResponse) GetDetectedIssues() []*DetectedIssue {
	if m != nil {
		return m.DetectedIssues
	}
	return nil
}

func (m *CheckContentResponse) GetConfidenceScore() float32 {
	if m != nil {
		return m.ConfidenceScore
	}
	return 0
}

func (m *CheckContentResponse) GetRequestId() string {
	if m != nil {
		return m.RequestId
	}
	return ""
}

type DetectedIssue struct {
	Type        IssueKind `protobuf:"varint,1,opt,name=type,proto3,enum=firewall.IssueKind" json:"type,omitempty"`
	Text        string    `protobuf:"bytes,2,opt,name=text,proto3" json:"text,omitempty"`
	Start       int32     `protobuf:"varint,3,opt,name=start,proto3" json:"start,omitempty"`
	End         int32     `protobuf:"varint,4,opt,name=end,proto3" json:"end,omitempty"`
	Confidence  float32   `protobuf:"fixed32,5,opt,name=confidence,proto3" json:"confidence,omitempty"`
	Replacement string    `protobuf:"bytes,6,opt,name=replacement,proto3" json:"replacement,omitempty"`
}

func (m *DetectedIssue) Reset()         { *m = DetectedIssue{} }
func (m *DetectedIssue) String() string { return fmt.Sprintf("&%v", *m) }
func (*DetectedIssue) ProtoMessage()    {}

func (m *DetectedIssue) GetType() IssueKind {
	if m != nil {
		return m.Type
	}
	return IssueKind_UNKNOWN
}

func (m *DetectedIssue) GetText() string {
	if m != nil {
		return m.Text
	}
	return ""
}

func (m *DetectedIssue) GetStart() int32 {
	if m != nil {
		return m.Start
	}
	return 0
}

func (m *DetectedIssue) GetEnd() int32 {
	if m != nil {
		return m.End
	}
	return 0
}

func (m *DetectedIssue) GetConfidence() float32 {
	if m != nil {
		return m.Confidence
	}
	return 0
}

func (m *DetectedIssue) GetReplacement() string {
	if m != nil {
		return m.Replacement
	}
	return ""
}

type HealthCheckRequest struct {
	Service string `protobuf:"bytes,1,opt,name=service,proto3" json:"service,omitempty"`
}

func (m *HealthCheckRequest) Reset()         { *m = HealthCheckRequest{} }
func (m *HealthCheckRequest) String() string { return fmt.Sprintf("&%v", *m) }
func (*HealthCheckRequest) ProtoMessage()    {}

func (m *HealthCheckRequest) GetService() string {
	if m != nil {
		return m.Service
	}
	return ""
}

type HealthCheckResponse struct {
	Status        HealthCheckResponse_ServingStatus `protobuf:"varint,1,opt,name=status,proto3,enum=firewall.HealthCheckResponse_ServingStatus" json:"status,omitempty"`
	Version       string                            `protobuf:"bytes,2,opt,name=version,proto3" json:"version,omitempty"`
	UptimeSeconds float64                           `protobuf:"fixed64,3,opt,name=uptime_seconds,json=uptimeSeconds,proto3" json:"uptime_seconds,omitempty"`
}

func (m *HealthCheckResponse) Reset()         { *m = HealthCheckResponse{} }
func (m *HealthCheckResponse) String() string { return fmt.Sprintf("&%v", *m) }
func (*HealthCheckResponse) ProtoMessage()    {}

func (m *HealthCheckResponse) GetStatus() HealthCheckResponse_ServingStatus {
	if m != nil {
		return m.Status
	}
	return HealthCheckResponse_UNKNOWN
}

func (m *HealthCheckResponse) GetVersion() string {
	if m != nil {
		return m.Version
	}
	return ""
}

func (m *HealthCheckResponse) GetUptimeSeconds() float64 {
	if m != nil {
		return m.UptimeSeconds
	}
	return 0
}
