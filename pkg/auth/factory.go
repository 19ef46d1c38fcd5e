// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

// NewValidatorFromJWKS is a convenience constructor for the common case
// of a JWKS-backed front. Returns nil, nil if jwksURL is empty so
// callers can leave authentication disabled without a branch.
func NewValidatorFromJWKS(jwksURL, issuer, audience string) (TokenValidator, error) {
	if jwksURL == "" {
		return nil, nil
	}
	return NewJWTValidator(JWTValidatorConfig{
		JWKSURL:  jwksURL,
		Issuer:   issuer,
		Audience: audience,
	})
}
