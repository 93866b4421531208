// SPDX-License-Identifier: MPL-2.0

// Package contracts defines the narrow data contract between the execution
// engine and its collaborators: ExecuteRequest in, ExecuteResult out.
package contracts
